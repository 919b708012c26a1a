package repository

import (
	"context"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
)

// MessageRepository persists outgoing media messages and their delivery state.
// Missing records are reported as domain.ErrNotFound.
type MessageRepository interface {
	// GetOutgoingMessage loads the message with its attachments, sticker,
	// link preview thumbnails and contact avatars resolved.
	GetOutgoingMessage(ctx context.Context, id int64) (*coreDomain.OutgoingMediaMessage, error)
	IsSent(ctx context.Context, id int64) (bool, error)
	MarkAsSending(ctx context.Context, id int64) error
	MarkAsSent(ctx context.Context, id int64, secure bool) error
	MarkUnidentified(ctx context.Context, id int64, unidentified bool) error
	MarkAsSentFailed(ctx context.Context, id int64) error
	MarkAsPendingInsecureSMSFallback(ctx context.Context, id int64) error
	AddMismatchedIdentity(ctx context.Context, id int64, address coreDomain.Address, identityKey []byte) error
	SetErrorMessage(ctx context.Context, id int64, description string) error
	MarkExpireStarted(ctx context.Context, id int64, startedAt time.Time) error
	// ListExpiring returns messages whose expiration has started.
	ListExpiring(ctx context.Context) ([]coreDomain.ExpiringMessage, error)
	// IncrementDeliveryReceiptCount returns the number of messages matched.
	IncrementDeliveryReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error)
	IncrementReadReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error)
	DeleteMessage(ctx context.Context, id int64) error
}

// AttachmentRepository persists attachment records and their upload state.
type AttachmentRepository interface {
	GetAttachment(ctx context.Context, id int64) (*coreDomain.Attachment, error)
	MarkUploaded(ctx context.Context, id int64, pointer *coreDomain.AttachmentPointer) error
	MarkAttachmentsUploaded(ctx context.Context, messageID int64) error
}

// RecipientRepository is the recipient directory.
type RecipientRepository interface {
	// GetRecipient returns the stored recipient, or a fresh recipient with
	// unknown access mode when none is stored.
	GetRecipient(ctx context.Context, address coreDomain.Address) (*coreDomain.Recipient, error)
	// CompareAndSetUnidentifiedAccessMode stores next only if the current mode
	// equals expected. It reports whether the row was updated.
	CompareAndSetUnidentifiedAccessMode(ctx context.Context, address coreDomain.Address, expected, next coreDomain.UnidentifiedAccessMode) (bool, error)
}
