package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/media_delivery_services/internal/platform/database"
	"github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
	"github.com/google/uuid"
)

type PgJobStore struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgJobStore(db database.DBTX, logger *slog.Logger) *PgJobStore {
	return &PgJobStore{db: db, logger: logger}
}

func (r *PgJobStore) Insert(ctx context.Context, rec *domain.JobRecord) error {
	query := `
		INSERT INTO media_jobs (id, factory_key, queue, data, depends_on, status, attempt, max_attempts, lifespan_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	deps := make([]string, len(rec.DependsOn))
	for i, id := range rec.DependsOn {
		deps[i] = id.String()
	}
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.FactoryKey, rec.Queue, []byte(rec.Data), deps, rec.Status,
		rec.Attempt, rec.MaxAttempts, rec.Lifespan.Milliseconds(), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting job", "error", err, "job_id", rec.ID)
		return err
	}
	return nil
}

func (r *PgJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, attempt int, lastError string) error {
	query := `
		UPDATE media_jobs
		SET status = $1, attempt = $2, last_error = NULLIF($3, ''), updated_at = $4
		WHERE id = $5
	`
	tag, err := r.db.Exec(ctx, query, status, attempt, lastError, time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating job status", "error", err, "job_id", id, "new_status", status)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media_jobs WHERE id = $1`, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting job", "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgJobStore) ListUnfinished(ctx context.Context) ([]*domain.JobRecord, error) {
	query := `
		SELECT id, factory_key, queue, data, depends_on, status, attempt, max_attempts, lifespan_ms, COALESCE(last_error, ''), created_at, updated_at
		FROM media_jobs
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, domain.StatusPending, domain.StatusProcessing, domain.StatusRetry)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing unfinished jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var records []*domain.JobRecord
	for rows.Next() {
		rec := &domain.JobRecord{}
		var (
			data       []byte
			deps       []string
			lifespanMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.FactoryKey, &rec.Queue, &data, &deps, &rec.Status,
			&rec.Attempt, &rec.MaxAttempts, &lifespanMs, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		rec.Data = data
		rec.Lifespan = time.Duration(lifespanMs) * time.Millisecond
		for _, d := range deps {
			id, err := uuid.Parse(d)
			if err != nil {
				return nil, fmt.Errorf("job %s has invalid dependency %q: %w", rec.ID, d, err)
			}
			rec.DependsOn = append(rec.DependsOn, id)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}
