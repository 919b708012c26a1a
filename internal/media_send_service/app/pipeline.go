package app

import (
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/repository"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

// Collaborators are the storage and transport dependencies of the pipeline.
type Collaborators struct {
	Messages    repository.MessageRepository
	Attachments repository.AttachmentRepository
	Recipients  repository.RecipientRepository
	Sender      MessageSender
	Uploader    AttachmentUploader
	Access      AccessProvider
	Notifier    FailureNotifier
	Expirations ExpirationScheduler
}

// Settings carry the local account identity and job scheduling limits.
type Settings struct {
	LocalAddress                coreDomain.Address
	LocalProfileKey             []byte
	UnidentifiedDeliveryEnabled bool
	// SendLifespan bounds how long a send job keeps retrying. Send jobs have
	// no attempt limit.
	SendLifespan time.Duration
	// UploadMaxAttempts bounds retries of a single attachment upload.
	UploadMaxAttempts int
	UploadLifespan    time.Duration
}

// Pipeline owns the media send jobs and everything they need to run.
type Pipeline struct {
	messages    repository.MessageRepository
	attachments repository.AttachmentRepository
	recipients  repository.RecipientRepository
	uploader    AttachmentUploader

	builder    *EnvelopeBuilder
	negotiator *DeliveryNegotiator
	reconciler *Reconciler

	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

func NewPipeline(c Collaborators, s Settings, logger *slog.Logger) *Pipeline {
	if s.UploadMaxAttempts == 0 {
		s.UploadMaxAttempts = jobDomain.Unlimited
	}
	logger = logger.With("service", "media_send_app")
	return &Pipeline{
		messages:    c.Messages,
		attachments: c.Attachments,
		recipients:  c.Recipients,
		uploader:    c.Uploader,
		builder:     NewEnvelopeBuilder(s.LocalProfileKey),
		negotiator:  NewDeliveryNegotiator(c.Sender, c.Access, s.LocalAddress, logger),
		reconciler:  NewReconciler(c.Messages, c.Attachments, c.Recipients, c.Notifier, c.Expirations, s, logger),
		settings:    s,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterFactories makes persisted media jobs restorable.
func (p *Pipeline) RegisterFactories(r FactoryRegistry) {
	r.RegisterFactory(MediaSendJobKey, jobDomain.FactoryFunc(p.createMediaSendJob))
	r.RegisterFactory(AttachmentUploadJobKey, jobDomain.FactoryFunc(p.createAttachmentUploadJob))
}
