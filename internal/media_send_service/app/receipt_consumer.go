package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/repository"
	"github.com/nats-io/nats.go"
)

// ReceiptKind is the last token of a receipt subject.
type ReceiptKind string

const (
	ReceiptDelivery ReceiptKind = "delivery"
	ReceiptRead     ReceiptKind = "read"
)

// ReceiptEvent reports that Address received or read the messages sent at
// Timestamps.
type ReceiptEvent struct {
	Address    string    `json:"address"`
	Timestamps []int64   `json:"timestamps"`
	ReceivedAt time.Time `json:"received_at"`
}

// Subscriber is the subscribe half of the NATS client.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// ReceiptConsumer counts delivery and read receipts against sent messages.
type ReceiptConsumer struct {
	subscriber Subscriber
	messages   repository.MessageRepository
	logger     *slog.Logger
}

func NewReceiptConsumer(subscriber Subscriber, messages repository.MessageRepository, logger *slog.Logger) *ReceiptConsumer {
	return &ReceiptConsumer{
		subscriber: subscriber,
		messages:   messages,
		logger:     logger.With("component", "receipt_consumer"),
	}
}

// Start subscribes to subject, typically "media.receipts.>".
func (c *ReceiptConsumer) Start(ctx context.Context, subject, queueGroup string) (*nats.Subscription, error) {
	c.logger.InfoContext(ctx, "Starting receipt subscription", "subject", subject, "queue_group", queueGroup)
	sub, err := c.subscriber.Subscribe(ctx, subject, queueGroup, func(msg *nats.Msg) {
		if err := c.Handle(ctx, msg.Subject, msg.Data); err != nil {
			c.logger.ErrorContext(ctx, "Failed to process receipt", "error", err, "subject", msg.Subject)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to receipts on %q: %w", subject, err)
	}
	return sub, nil
}

// Handle applies one receipt event received on subject.
func (c *ReceiptConsumer) Handle(ctx context.Context, subject string, data []byte) error {
	parts := strings.Split(subject, ".")
	kind := ReceiptKind(parts[len(parts)-1])
	if kind != ReceiptDelivery && kind != ReceiptRead {
		receiptsProcessedCounter.WithLabelValues("unknown", "invalid").Inc()
		return fmt.Errorf("unsupported receipt subject %q", subject)
	}

	var event ReceiptEvent
	if err := json.Unmarshal(data, &event); err != nil {
		receiptsProcessedCounter.WithLabelValues(string(kind), "invalid").Inc()
		return fmt.Errorf("decode receipt: %w", err)
	}
	address, err := coreDomain.ParseAddress(event.Address)
	if err != nil {
		receiptsProcessedCounter.WithLabelValues(string(kind), "invalid").Inc()
		return fmt.Errorf("receipt address: %w", err)
	}
	at := event.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	increment := c.messages.IncrementDeliveryReceiptCount
	if kind == ReceiptRead {
		increment = c.messages.IncrementReadReceiptCount
	}
	for _, ts := range event.Timestamps {
		n, err := increment(ctx, coreDomain.SyncMessageID{Address: address, Timestamp: ts}, at)
		if err != nil {
			receiptsProcessedCounter.WithLabelValues(string(kind), "error").Inc()
			return fmt.Errorf("count %s receipt for %s at %d: %w", kind, address, ts, err)
		}
		if n == 0 {
			c.logger.DebugContext(ctx, "Receipt matched no message", "kind", kind, "address", address, "timestamp", ts)
		}
		receiptsProcessedCounter.WithLabelValues(string(kind), "success").Inc()
	}
	return nil
}
