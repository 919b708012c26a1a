package postgres

import (
	"context"
	"errors"
	"log/slog"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

type PgRecipientRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgRecipientRepository(db database.DBTX, logger *slog.Logger) *PgRecipientRepository {
	return &PgRecipientRepository{db: db, logger: logger.With("repository", "recipients")}
}

func (r *PgRecipientRepository) GetRecipient(ctx context.Context, address coreDomain.Address) (*coreDomain.Recipient, error) {
	query := `
		SELECT profile_key, profile_sharing, unidentified_access_mode, COALESCE(relay, '')
		FROM recipients WHERE address = $1
	`
	rec := &coreDomain.Recipient{Address: address}
	var mode int16
	err := r.db.QueryRow(ctx, query, address.Serialize()).Scan(&rec.ProfileKey, &rec.ProfileSharing, &mode, &rec.Relay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			rec.UnidentifiedAccessMode = coreDomain.UnidentifiedAccessUnknown
			return rec, nil
		}
		r.logger.ErrorContext(ctx, "Error getting recipient", "error", err, "address", address)
		return nil, err
	}
	rec.UnidentifiedAccessMode = coreDomain.UnidentifiedAccessMode(mode)
	return rec, nil
}

// CompareAndSetUnidentifiedAccessMode stores next when the current mode equals
// expected. A missing row counts as unknown.
func (r *PgRecipientRepository) CompareAndSetUnidentifiedAccessMode(ctx context.Context, address coreDomain.Address, expected, next coreDomain.UnidentifiedAccessMode) (bool, error) {
	query := `UPDATE recipients SET unidentified_access_mode = $3 WHERE address = $1 AND unidentified_access_mode = $2`
	if expected == coreDomain.UnidentifiedAccessUnknown {
		query = `
			INSERT INTO recipients (address, unidentified_access_mode) VALUES ($1, $3)
			ON CONFLICT (address) DO UPDATE SET unidentified_access_mode = EXCLUDED.unidentified_access_mode
			WHERE recipients.unidentified_access_mode = $2
		`
	}
	tag, err := r.db.Exec(ctx, query, address.Serialize(), int16(expected), int16(next))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating unidentified access mode", "error", err, "address", address,
			"expected", expected, "next", next)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
