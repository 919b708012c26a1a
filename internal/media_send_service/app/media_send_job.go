package app

import (
	"context"
	"errors"
	"fmt"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

const MediaSendJobKey = "MediaSendJob"

const (
	keyTemplateMessageID = "template_message_id"
	keyMessageID         = "message_id"
	keyDestination       = "destination"
)

// MediaSendJob delivers one outgoing message to one destination. The content
// comes from the template message; the delivery state is written to the
// per-recipient message.
type MediaSendJob struct {
	params     jobDomain.Parameters
	templateID int64
	target     SendTarget
	p          *Pipeline

	// delivered holds the accepted delivery while its bookkeeping is retried.
	delivered    bool
	unidentified bool
}

// NewMediaSendJob creates a send job. Jobs for the same destination share a
// queue and never run concurrently.
func (p *Pipeline) NewMediaSendJob(templateID, messageID int64, destination coreDomain.Address) *MediaSendJob {
	return &MediaSendJob{
		params:     jobDomain.NewParameters(destination.Serialize(), jobDomain.Unlimited, p.settings.SendLifespan),
		templateID: templateID,
		target:     SendTarget{MessageID: messageID, Destination: destination},
		p:          p,
	}
}

func (p *Pipeline) createMediaSendJob(params jobDomain.Parameters, data jobDomain.Data) (jobDomain.Job, error) {
	templateID, err := data.GetLong(keyTemplateMessageID)
	if err != nil {
		return nil, err
	}
	messageID, err := data.GetLong(keyMessageID)
	if err != nil {
		return nil, err
	}
	raw, err := data.GetString(keyDestination)
	if err != nil {
		return nil, err
	}
	destination, err := coreDomain.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("media send job destination: %w", err)
	}
	return &MediaSendJob{
		params:     params,
		templateID: templateID,
		target:     SendTarget{MessageID: messageID, Destination: destination},
		p:          p,
	}, nil
}

func (j *MediaSendJob) Parameters() jobDomain.Parameters { return j.params }

func (j *MediaSendJob) FactoryKey() string { return MediaSendJobKey }

func (j *MediaSendJob) TemplateID() int64 { return j.templateID }

func (j *MediaSendJob) Target() SendTarget { return j.target }

func (j *MediaSendJob) Serialize() (jobDomain.Data, error) {
	return jobDomain.NewDataBuilder().
		PutLong(keyTemplateMessageID, j.templateID).
		PutLong(keyMessageID, j.target.MessageID).
		PutString(keyDestination, j.target.Destination.Serialize()).
		Build(), nil
}

func (j *MediaSendJob) OnAdded(ctx context.Context) {
	if !j.target.hasRow() {
		return
	}
	if err := j.p.messages.MarkAsSending(ctx, j.target.MessageID); err != nil {
		j.p.logger.ErrorContext(ctx, "Failed to mark message sending", "error", err, "message_id", j.target.MessageID)
	}
}

// Run performs one delivery attempt.
func (j *MediaSendJob) Run(ctx context.Context) error {
	log := j.p.logger.With("job_id", j.params.ID, "template_id", j.templateID,
		"message_id", j.target.MessageID, "destination", j.target.Destination)

	if j.target.hasRow() {
		sent, err := j.p.messages.IsSent(ctx, j.target.MessageID)
		if err != nil {
			return storageError(err)
		}
		if sent {
			log.WarnContext(ctx, "Message already sent, skipping")
			return nil
		}
	}

	msg, err := j.p.messages.GetOutgoingMessage(ctx, j.templateID)
	if err != nil {
		return storageError(err)
	}
	recipient, err := j.p.recipients.GetRecipient(ctx, j.target.Destination)
	if err != nil {
		return storageError(err)
	}

	if j.delivered {
		log.InfoContext(ctx, "Message already accepted by transport, retrying bookkeeping")
		return j.p.reconciler.Apply(ctx, j.target, msg, recipient, domain.ClassifyOutcome(j.unidentified, nil))
	}

	log.InfoContext(ctx, "Sending media message", "attachments", len(msg.Attachments))

	unidentified, err := j.deliver(ctx, msg, recipient)
	if err == nil {
		j.delivered, j.unidentified = true, unidentified
	}
	return j.p.reconciler.Apply(ctx, j.target, msg, recipient, domain.ClassifyOutcome(unidentified, err))
}

func (j *MediaSendJob) deliver(ctx context.Context, msg *coreDomain.OutgoingMediaMessage, recipient *coreDomain.Recipient) (bool, error) {
	envelope, err := j.p.builder.Build(msg, recipient)
	if err != nil {
		return false, err
	}
	return j.p.negotiator.Deliver(ctx, recipient, envelope, msg.ExpiresIn)
}

// OnShouldRetry is always false; transient failures return ErrRetryLater.
func (j *MediaSendJob) OnShouldRetry(error) bool { return false }

func (j *MediaSendJob) OnCanceled(ctx context.Context) {
	j.p.logger.WarnContext(ctx, "Media send job canceled", "job_id", j.params.ID, "message_id", j.target.MessageID)
	j.p.reconciler.markFailed(context.WithoutCancel(ctx), j.target, "canceled")
}

// storageError keeps not-found terminal and makes other storage errors transient.
func storageError(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrRetryLater) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrRetryLater, err)
}
