package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aradsms/media_delivery_services/internal/media_send_service/app"
)

// Publisher publishes raw payloads. *messagebroker.NatsClient satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NatsNotifier publishes delivery failure notices as JSON.
type NatsNotifier struct {
	publisher Publisher
	subject   string
	logger    *slog.Logger
}

func NewNatsNotifier(publisher Publisher, subject string, logger *slog.Logger) *NatsNotifier {
	return &NatsNotifier{publisher: publisher, subject: subject, logger: logger.With("component", "failure_notifier")}
}

func (n *NatsNotifier) NotifyFailure(ctx context.Context, notice app.FailureNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal failure notice: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.subject, data); err != nil {
		return fmt.Errorf("publish failure notice for message %d: %w", notice.MessageID, err)
	}
	n.logger.InfoContext(ctx, "Published delivery failure notice",
		"message_id", notice.MessageID, "destination", notice.Destination, "reason", notice.Reason)
	return nil
}
