package app

import (
	"context"
	"io"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

// MessageSender transmits envelopes to the messaging transport.
type MessageSender interface {
	SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error)
	SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error
}

// AttachmentUploader stores an attachment payload remotely and returns its pointer.
type AttachmentUploader interface {
	Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error)
}

// AccessProvider builds sealed delivery credentials. A nil pair means the
// delivery must be identified.
type AccessProvider interface {
	AccessFor(recipient *coreDomain.Recipient) *domain.UnidentifiedAccessPair
	AccessForSync() *domain.UnidentifiedAccessPair
}

// FailureNotice is emitted for every delivery failure a user should see.
type FailureNotice struct {
	MessageID   int64     `json:"message_id"`
	Destination string    `json:"destination"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// FailureNotifier surfaces delivery failures to the user.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, notice FailureNotice) error
}

// ExpirationScheduler deletes a message once its expiration timer runs out.
type ExpirationScheduler interface {
	ScheduleDeletion(ctx context.Context, messageID int64, startedAt time.Time, expiresIn time.Duration)
}

// JobScheduler is the part of the job manager the enqueue entry points need.
type JobScheduler interface {
	Add(ctx context.Context, job jobDomain.Job) error
	EnqueueChain(ctx context.Context, first, dependents []jobDomain.Job) error
}

// FactoryRegistry accepts job factories by key.
type FactoryRegistry interface {
	RegisterFactory(key string, f jobDomain.Factory)
}
