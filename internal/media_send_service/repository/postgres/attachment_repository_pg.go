package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/aradsms/media_delivery_services/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

const selectAttachmentColumns = `
		SELECT id, message_id, kind, content_type, file_name, size, data_path, transfer_state,
		       remote_id, remote_key, remote_digest, uploaded_at
		FROM attachments`

type PgAttachmentRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgAttachmentRepository(db database.DBTX, logger *slog.Logger) *PgAttachmentRepository {
	return &PgAttachmentRepository{db: db, logger: logger.With("repository", "attachments")}
}

func scanAttachment(row pgx.Row) (*coreDomain.Attachment, error) {
	a := &coreDomain.Attachment{}
	var (
		kind       string
		state      string
		fileName   *string
		remoteID   *string
		remoteKey  []byte
		digest     []byte
		uploadedAt *time.Time
	)
	if err := row.Scan(
		&a.ID, &a.MessageID, &kind, &a.ContentType, &fileName, &a.Size, &a.DataPath, &state,
		&remoteID, &remoteKey, &digest, &uploadedAt,
	); err != nil {
		return nil, err
	}
	a.Kind = coreDomain.AttachmentKind(kind)
	a.TransferState = coreDomain.TransferState(state)
	if fileName != nil {
		a.FileName = *fileName
	}
	if remoteID != nil && *remoteID != "" {
		a.Pointer = &coreDomain.AttachmentPointer{
			RemoteID:    *remoteID,
			Key:         remoteKey,
			Digest:      digest,
			Size:        a.Size,
			ContentType: a.ContentType,
			FileName:    a.FileName,
		}
		if uploadedAt != nil {
			a.Pointer.UploadedAt = *uploadedAt
		}
	}
	return a, nil
}

func (r *PgAttachmentRepository) GetAttachment(ctx context.Context, id int64) (*coreDomain.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRow(ctx, selectAttachmentColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Attachment not found", "attachment_id", id)
			return nil, fmt.Errorf("attachment %d: %w", id, domain.ErrNotFound)
		}
		r.logger.ErrorContext(ctx, "Error getting attachment", "error", err, "attachment_id", id)
		return nil, err
	}
	return a, nil
}

func (r *PgAttachmentRepository) MarkUploaded(ctx context.Context, id int64, pointer *coreDomain.AttachmentPointer) error {
	query := `
		UPDATE attachments
		SET remote_id = $1, remote_key = $2, remote_digest = $3, uploaded_at = $4, transfer_state = $5
		WHERE id = $6
	`
	tag, err := r.db.Exec(ctx, query, pointer.RemoteID, pointer.Key, pointer.Digest, pointer.UploadedAt,
		string(coreDomain.TransferDone), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking attachment uploaded", "error", err, "attachment_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attachment %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkAttachmentsUploaded finalizes the transfer state of every attachment of
// a message. Messages without attachments are not an error.
func (r *PgAttachmentRepository) MarkAttachmentsUploaded(ctx context.Context, messageID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE attachments SET transfer_state = $1 WHERE message_id = $2 AND transfer_state <> $1`,
		string(coreDomain.TransferDone), messageID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking message attachments uploaded", "error", err, "message_id", messageID)
		return err
	}
	return nil
}
