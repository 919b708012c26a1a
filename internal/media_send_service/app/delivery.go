package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
)

// DeliveryNegotiator picks identified or sealed delivery and hands the
// envelope to the transport.
type DeliveryNegotiator struct {
	sender       MessageSender
	access       AccessProvider
	localAddress coreDomain.Address
	logger       *slog.Logger
}

func NewDeliveryNegotiator(sender MessageSender, access AccessProvider, localAddress coreDomain.Address, logger *slog.Logger) *DeliveryNegotiator {
	return &DeliveryNegotiator{
		sender:       sender,
		access:       access,
		localAddress: localAddress,
		logger:       logger.With("component", "delivery_negotiator"),
	}
}

// IsLocal reports whether address is the local account.
func (n *DeliveryNegotiator) IsLocal(address coreDomain.Address) bool {
	return n.localAddress != "" && address == n.localAddress
}

// Deliver sends envelope to recipient and reports whether the delivery was
// unidentified. Messages to the local account go out as a sync transcript.
func (n *DeliveryNegotiator) Deliver(ctx context.Context, recipient *coreDomain.Recipient, envelope *domain.DataMessage, expiresIn time.Duration) (bool, error) {
	if n.IsLocal(recipient.Address) {
		return n.deliverToSelf(ctx, envelope, expiresIn)
	}

	start := time.Now()
	to := domain.TransportAddress{Number: recipient.Address.Serialize(), Relay: recipient.Relay}
	result, err := n.sender.SendDataMessage(ctx, to, n.access.AccessFor(recipient), envelope)
	deliveryDurationHist.WithLabelValues("direct").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, n.mapError(ctx, recipient.Address, err)
	}
	if result == nil {
		return false, fmt.Errorf("%w: empty transport result for %s", domain.ErrRetryLater, recipient.Address)
	}
	if result.TransportError != nil {
		return false, result.TransportError
	}
	if result.Success == nil {
		return false, fmt.Errorf("%w: transport result for %s has no status", domain.ErrRetryLater, recipient.Address)
	}
	return result.Success.Unidentified, nil
}

// deliverToSelf has no per-recipient acknowledgement; the send counts as
// unidentified whenever a sync credential was available.
func (n *DeliveryNegotiator) deliverToSelf(ctx context.Context, envelope *domain.DataMessage, expiresIn time.Duration) (bool, error) {
	access := n.access.AccessForSync()
	local := n.localAddress.Serialize()

	transcript := &domain.SentTranscript{
		Destination:        local,
		Timestamp:          envelope.Timestamp,
		Message:            envelope,
		UnidentifiedStatus: map[string]bool{local: access != nil},
	}
	if expiresIn > 0 {
		transcript.ExpirationStartTimestamp = envelope.Timestamp
	}

	start := time.Now()
	err := n.sender.SendSyncMessage(ctx, &domain.SyncMessage{Sent: transcript}, access)
	deliveryDurationHist.WithLabelValues("self").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, n.mapError(ctx, n.localAddress, err)
	}
	return access != nil, nil
}

func (n *DeliveryNegotiator) mapError(ctx context.Context, address coreDomain.Address, err error) error {
	var (
		identityErr  *domain.UntrustedIdentityError
		transportErr *domain.TransportError
	)
	switch {
	case errors.Is(err, domain.ErrUnregisteredUser):
		n.logger.WarnContext(ctx, "Recipient not registered", "address", address, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrInsecureFallbackRequired, err)
	case errors.Is(err, fs.ErrNotExist):
		n.logger.WarnContext(ctx, "Attachment payload missing", "address", address, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrUndeliverable, err)
	case errors.As(err, &identityErr), errors.As(err, &transportErr):
		return err
	case errors.Is(err, domain.ErrUndeliverable), errors.Is(err, domain.ErrRetryLater):
		return err
	default:
		n.logger.WarnContext(ctx, "Transport failure", "address", address, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrRetryLater, err)
	}
}
