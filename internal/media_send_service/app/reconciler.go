package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/repository"
)

// SendTarget identifies the per-recipient message a send job owns.
// MessageID is negative for sync-only sends that have no local row.
type SendTarget struct {
	MessageID   int64
	Destination coreDomain.Address
}

func (t SendTarget) hasRow() bool { return t.MessageID >= 0 }

// Reconciler applies the local state changes for a delivery outcome.
type Reconciler struct {
	messages    repository.MessageRepository
	attachments repository.AttachmentRepository
	recipients  repository.RecipientRepository
	notifier    FailureNotifier
	expirations ExpirationScheduler
	settings    Settings
	logger      *slog.Logger
	now         func() time.Time
}

func NewReconciler(
	messages repository.MessageRepository,
	attachments repository.AttachmentRepository,
	recipients repository.RecipientRepository,
	notifier FailureNotifier,
	expirations ExpirationScheduler,
	settings Settings,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		messages:    messages,
		attachments: attachments,
		recipients:  recipients,
		notifier:    notifier,
		expirations: expirations,
		settings:    settings,
		logger:      logger.With("component", "reconciler"),
		now:         time.Now,
	}
}

// Apply performs the state transition for outcome. It returns nil for every
// terminal outcome handled locally, the retry-later error for transient
// failures, and the original error for failures the job manager must cancel.
func (r *Reconciler) Apply(ctx context.Context, target SendTarget, msg *coreDomain.OutgoingMediaMessage, recipient *coreDomain.Recipient, outcome domain.Outcome) error {
	deliveryOutcomesCounter.WithLabelValues(outcome.Kind.String()).Inc()
	log := r.logger.With("message_id", target.MessageID, "destination", target.Destination, "outcome", outcome.Kind.String())

	switch outcome.Kind {
	case domain.OutcomeSent:
		log.InfoContext(ctx, "Message delivered", "unidentified", outcome.Unidentified)
		return r.applySent(ctx, target, msg, recipient, outcome.Unidentified)

	case domain.OutcomeInsecureFallback:
		log.WarnContext(ctx, "Secure delivery impossible, falling back", "error", outcome.Err)
		if target.hasRow() {
			if err := r.messages.MarkAsPendingInsecureSMSFallback(ctx, target.MessageID); err != nil {
				log.ErrorContext(ctx, "Failed to mark message pending insecure fallback", "error", err)
			}
		}
		r.notify(ctx, target, outcome.Kind.String())
		return nil

	case domain.OutcomeUntrustedIdentity:
		log.WarnContext(ctx, "Recipient identity changed", "error", outcome.Err)
		if target.hasRow() {
			if err := r.messages.AddMismatchedIdentity(ctx, target.MessageID, outcome.Identity.Address, outcome.Identity.IdentityKey); err != nil {
				log.ErrorContext(ctx, "Failed to record mismatched identity", "error", err)
			}
		}
		r.markFailed(ctx, target, outcome.Kind.String())
		return nil

	case domain.OutcomeTransportError:
		log.WarnContext(ctx, "Transport reported a delivery error", "description", outcome.Transport.Description)
		if target.hasRow() {
			if err := r.messages.SetErrorMessage(ctx, target.MessageID, outcome.Transport.Description); err != nil {
				log.ErrorContext(ctx, "Failed to store delivery error", "error", err)
			}
		}
		r.markFailed(ctx, target, outcome.Kind.String())
		return nil

	case domain.OutcomeRetryLater:
		log.InfoContext(ctx, "Delivery will be retried", "error", outcome.Err)
		return outcome.Err

	default:
		// Undeliverable and not found end the job; OnCanceled records the failure.
		log.ErrorContext(ctx, "Message cannot be delivered", "error", outcome.Err)
		return outcome.Err
	}
}

func (r *Reconciler) applySent(ctx context.Context, target SendTarget, msg *coreDomain.OutgoingMediaMessage, recipient *coreDomain.Recipient, unidentified bool) error {
	log := r.logger.With("message_id", target.MessageID, "destination", target.Destination)

	if target.hasRow() {
		if err := r.messages.MarkAsSent(ctx, target.MessageID, true); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("%w: mark message %d sent: %v", domain.ErrRetryLater, target.MessageID, err)
		}
		if err := r.attachments.MarkAttachmentsUploaded(ctx, target.MessageID); err != nil {
			log.ErrorContext(ctx, "Failed to finalize attachment transfer state", "error", err)
		}
		if err := r.messages.MarkUnidentified(ctx, target.MessageID, unidentified); err != nil {
			log.ErrorContext(ctx, "Failed to store unidentified flag", "error", err)
		}
	}

	if r.settings.LocalAddress != "" && target.Destination == r.settings.LocalAddress {
		syncID := coreDomain.SyncMessageID{Address: r.settings.LocalAddress, Timestamp: msg.SentTimestamp}
		now := r.now().UTC()
		if _, err := r.messages.IncrementDeliveryReceiptCount(ctx, syncID, now); err != nil {
			log.ErrorContext(ctx, "Failed to seed delivery receipt", "error", err)
		}
		if _, err := r.messages.IncrementReadReceiptCount(ctx, syncID, now); err != nil {
			log.ErrorContext(ctx, "Failed to seed read receipt", "error", err)
		}
	}

	if r.settings.UnidentifiedDeliveryEnabled && recipient != nil {
		r.learnAccessMode(ctx, recipient, unidentified)
	}

	if target.hasRow() && msg.ExpiresIn > 0 && !msg.ExpirationUpdate {
		startedAt := r.now().UTC()
		if err := r.messages.MarkExpireStarted(ctx, target.MessageID, startedAt); err != nil {
			log.ErrorContext(ctx, "Failed to start expiration", "error", err)
		} else if r.expirations != nil {
			r.expirations.ScheduleDeletion(ctx, target.MessageID, startedAt, msg.ExpiresIn)
		}
	}
	return nil
}

func (r *Reconciler) learnAccessMode(ctx context.Context, recipient *coreDomain.Recipient, unidentified bool) {
	current := recipient.UnidentifiedAccessMode
	next, changed := domain.NextAccessMode(current, unidentified, recipient.HasProfileKey())
	if !changed {
		return
	}
	ok, err := r.recipients.CompareAndSetUnidentifiedAccessMode(ctx, recipient.Address, current, next)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update unidentified access mode", "error", err, "address", recipient.Address)
		return
	}
	if !ok {
		r.logger.DebugContext(ctx, "Unidentified access mode changed concurrently", "address", recipient.Address, "expected", current.String())
		return
	}
	accessModeUpdatesCounter.WithLabelValues(next.String()).Inc()
	r.logger.InfoContext(ctx, "Learned unidentified access mode", "address", recipient.Address, "from", current.String(), "to", next.String())
}

// markFailed marks the message sent_failed and notifies the user.
func (r *Reconciler) markFailed(ctx context.Context, target SendTarget, reason string) {
	if !target.hasRow() {
		return
	}
	if err := r.messages.MarkAsSentFailed(ctx, target.MessageID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to mark message failed", "error", err, "message_id", target.MessageID)
	}
	r.notify(ctx, target, reason)
}

func (r *Reconciler) notify(ctx context.Context, target SendTarget, reason string) {
	if r.notifier == nil || !target.hasRow() {
		return
	}
	notice := FailureNotice{
		MessageID:   target.MessageID,
		Destination: target.Destination.Serialize(),
		Reason:      reason,
		OccurredAt:  r.now().UTC(),
	}
	if err := r.notifier.NotifyFailure(ctx, notice); err != nil {
		r.logger.ErrorContext(ctx, "Failed to emit failure notification", "error", err, "message_id", target.MessageID)
	}
}
