package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/aradsms/media_delivery_services/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

type PgMessageRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgMessageRepository(db database.DBTX, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{db: db, logger: logger.With("repository", "outgoing_messages")}
}

func (r *PgMessageRepository) GetOutgoingMessage(ctx context.Context, id int64) (*coreDomain.OutgoingMediaMessage, error) {
	query := `
		SELECT id, recipient, body, status, sent_timestamp, expires_in_ms, expiration_update,
		       quote, sticker, shared_contacts, link_previews
		FROM outgoing_messages WHERE id = $1
	`
	msg := &coreDomain.OutgoingMediaMessage{}
	var (
		recipient    string
		status       string
		expiresInMs  int64
		quoteJSON    []byte
		stickerJSON  []byte
		contactsJSON []byte
		previewsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.ID, &recipient, &msg.Body, &status, &msg.SentTimestamp, &expiresInMs, &msg.ExpirationUpdate,
		&quoteJSON, &stickerJSON, &contactsJSON, &previewsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Outgoing message not found", "message_id", id)
			return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
		}
		r.logger.ErrorContext(ctx, "Error getting outgoing message", "error", err, "message_id", id)
		return nil, err
	}
	msg.Recipient = coreDomain.Address(recipient)
	msg.Status = coreDomain.MessageStatus(status)
	msg.ExpiresIn = time.Duration(expiresInMs) * time.Millisecond

	if err := decodeOptionalJSON(quoteJSON, &msg.Quote); err != nil {
		return nil, fmt.Errorf("decode quote of message %d: %w", id, err)
	}
	if err := decodeOptionalJSON(stickerJSON, &msg.Sticker); err != nil {
		return nil, fmt.Errorf("decode sticker of message %d: %w", id, err)
	}
	if err := decodeOptionalJSON(contactsJSON, &msg.SharedContacts); err != nil {
		return nil, fmt.Errorf("decode shared contacts of message %d: %w", id, err)
	}
	if err := decodeOptionalJSON(previewsJSON, &msg.LinkPreviews); err != nil {
		return nil, fmt.Errorf("decode link previews of message %d: %w", id, err)
	}

	attachments, err := r.listAttachments(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := linkAttachments(msg, attachments); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *PgMessageRepository) listAttachments(ctx context.Context, messageID int64) ([]*coreDomain.Attachment, error) {
	rows, err := r.db.Query(ctx, selectAttachmentColumns+` WHERE message_id = $1 ORDER BY id ASC`, messageID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing attachments", "error", err, "message_id", messageID)
		return nil, err
	}
	defer rows.Close()

	var out []*coreDomain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment of message %d: %w", messageID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments of message %d: %w", messageID, err)
	}
	return out, nil
}

// linkAttachments distributes the message's attachment rows onto the body
// list, the sticker, link preview thumbnails and contact avatars.
func linkAttachments(msg *coreDomain.OutgoingMediaMessage, attachments []*coreDomain.Attachment) error {
	byID := make(map[int64]*coreDomain.Attachment, len(attachments))
	for _, a := range attachments {
		byID[a.ID] = a
		if a.Kind == coreDomain.AttachmentKindBody || a.Kind == coreDomain.AttachmentKindSticker {
			msg.Attachments = append(msg.Attachments, a)
		}
	}
	lookup := func(what string, id int64) (*coreDomain.Attachment, error) {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%s attachment %d of message %d: %w", what, id, msg.ID, domain.ErrNotFound)
		}
		return a, nil
	}

	if msg.Sticker != nil {
		a, err := lookup("sticker", msg.Sticker.AttachmentID)
		if err != nil {
			return err
		}
		msg.Sticker.Attachment = a
	}
	for i := range msg.LinkPreviews {
		p := &msg.LinkPreviews[i]
		if p.ThumbnailAttachmentID == 0 {
			continue
		}
		a, err := lookup("link preview thumbnail", p.ThumbnailAttachmentID)
		if err != nil {
			return err
		}
		p.Thumbnail = a
	}
	for i := range msg.SharedContacts {
		c := &msg.SharedContacts[i]
		if c.Avatar == nil {
			continue
		}
		a, err := lookup("contact avatar", c.Avatar.AttachmentID)
		if err != nil {
			return err
		}
		c.Avatar.Attachment = a
	}
	return nil
}

func decodeOptionalJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (r *PgMessageRepository) IsSent(ctx context.Context, id int64) (bool, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM outgoing_messages WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
		}
		r.logger.ErrorContext(ctx, "Error reading message status", "error", err, "message_id", id)
		return false, err
	}
	return coreDomain.MessageStatus(status) == coreDomain.MessageStatusSent, nil
}

func (r *PgMessageRepository) MarkAsSending(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, coreDomain.MessageStatusSending)
}

func (r *PgMessageRepository) MarkAsSentFailed(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, coreDomain.MessageStatusSentFailed)
}

func (r *PgMessageRepository) MarkAsPendingInsecureSMSFallback(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, coreDomain.MessageStatusPendingInsecureFallback)
}

func (r *PgMessageRepository) setStatus(ctx context.Context, id int64, status coreDomain.MessageStatus) error {
	return r.exec(ctx, "set status", id,
		`UPDATE outgoing_messages SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
}

func (r *PgMessageRepository) MarkAsSent(ctx context.Context, id int64, secure bool) error {
	return r.exec(ctx, "mark sent", id,
		`UPDATE outgoing_messages SET status = $1, secure = $2, error_message = NULL, updated_at = $3 WHERE id = $4`,
		coreDomain.MessageStatusSent, secure, time.Now().UTC(), id)
}

func (r *PgMessageRepository) MarkUnidentified(ctx context.Context, id int64, unidentified bool) error {
	return r.exec(ctx, "mark unidentified", id,
		`UPDATE outgoing_messages SET unidentified = $1, updated_at = $2 WHERE id = $3`,
		unidentified, time.Now().UTC(), id)
}

func (r *PgMessageRepository) AddMismatchedIdentity(ctx context.Context, id int64, address coreDomain.Address, identityKey []byte) error {
	return r.exec(ctx, "add mismatched identity", id, `
		UPDATE outgoing_messages
		SET mismatched_identities = COALESCE(mismatched_identities, '[]'::jsonb)
		        || jsonb_build_array(jsonb_build_object('address', $1::text, 'identity_key', encode($2::bytea, 'base64'))),
		    updated_at = $3
		WHERE id = $4`,
		address.Serialize(), identityKey, time.Now().UTC(), id)
}

func (r *PgMessageRepository) SetErrorMessage(ctx context.Context, id int64, description string) error {
	return r.exec(ctx, "set error message", id,
		`UPDATE outgoing_messages SET error_message = $1, updated_at = $2 WHERE id = $3`,
		description, time.Now().UTC(), id)
}

func (r *PgMessageRepository) MarkExpireStarted(ctx context.Context, id int64, startedAt time.Time) error {
	return r.exec(ctx, "mark expire started", id,
		`UPDATE outgoing_messages SET expire_started_at = $1, updated_at = $2 WHERE id = $3`,
		startedAt, time.Now().UTC(), id)
}

func (r *PgMessageRepository) ListExpiring(ctx context.Context) ([]coreDomain.ExpiringMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, expire_started_at, expires_in_ms
		FROM outgoing_messages
		WHERE expire_started_at IS NOT NULL AND expires_in_ms > 0
		ORDER BY expire_started_at
	`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing expiring messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []coreDomain.ExpiringMessage
	for rows.Next() {
		var (
			m           coreDomain.ExpiringMessage
			expiresInMs int64
		)
		if err := rows.Scan(&m.ID, &m.ExpireStartedAt, &expiresInMs); err != nil {
			return nil, fmt.Errorf("scan expiring message: %w", err)
		}
		m.ExpiresIn = time.Duration(expiresInMs) * time.Millisecond
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiring messages: %w", err)
	}
	return out, nil
}

func (r *PgMessageRepository) IncrementDeliveryReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error) {
	return r.incrementReceipt(ctx, "delivery_receipt_count", syncID, at)
}

func (r *PgMessageRepository) IncrementReadReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error) {
	return r.incrementReceipt(ctx, "read_receipt_count", syncID, at)
}

func (r *PgMessageRepository) incrementReceipt(ctx context.Context, column string, syncID coreDomain.SyncMessageID, at time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE outgoing_messages
		SET %[1]s = %[1]s + 1, last_receipt_at = $1
		WHERE recipient = $2 AND sent_timestamp = $3
	`, column)
	tag, err := r.db.Exec(ctx, query, at, syncID.Address.Serialize(), syncID.Timestamp)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error incrementing receipt count", "error", err, "column", column,
			"address", syncID.Address, "timestamp", syncID.Timestamp)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgMessageRepository) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, id); err != nil {
		r.logger.ErrorContext(ctx, "Error deleting attachments of message", "error", err, "message_id", id)
		return err
	}
	return r.exec(ctx, "delete", id, `DELETE FROM outgoing_messages WHERE id = $1`, id)
}

func (r *PgMessageRepository) exec(ctx context.Context, op string, id int64, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating outgoing message", "error", err, "op", op, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Outgoing message not found for update", "op", op, "message_id", id)
		return fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
