package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var breakerStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "media_send",
		Name:      "transport_breaker_state",
		Help:      "Circuit breaker state of the transport (0 closed, 1 half-open, 2 open).",
	},
	[]string{"breaker"},
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        // trial requests allowed while half-open
	Interval            time.Duration // closed-state count reset period
	Timeout             time.Duration // open-state duration
	ConsecutiveFailures uint32
}

// Transport is the sending and uploading surface of the gateway.
type Transport interface {
	SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error)
	SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error
	Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error)
}

// BreakingTransport fails fast with a retry-later error while the gateway is
// unhealthy. Answers that describe the recipient or the message do not count
// as failures.
type BreakingTransport struct {
	next    Transport
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewBreakingTransport(name string, next Transport, cfg BreakerConfig, logger *slog.Logger) *BreakingTransport {
	logger = logger.With("component", "transport_breaker", "breaker", name)
	consecutive := cfg.ConsecutiveFailures
	if consecutive == 0 {
		consecutive = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutive
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isGatewayFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerStateGauge.WithLabelValues(name).Set(stateValue(to))
			switch to {
			case gobreaker.StateOpen:
				logger.Error("Transport circuit opened, sends fail fast", "from", from.String())
			default:
				logger.Info("Transport circuit state changed", "from", from.String(), "to", to.String())
			}
		},
	}
	breakerStateGauge.WithLabelValues(name).Set(0)
	return &BreakingTransport{next: next, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

func (t *BreakingTransport) SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error) {
	res, err := t.breaker.Execute(func() (any, error) {
		return t.next.SendDataMessage(ctx, to, access, msg)
	})
	if err != nil {
		return nil, t.rejected(err)
	}
	return res.(*domain.SendMessageResult), nil
}

func (t *BreakingTransport) SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.next.SendSyncMessage(ctx, msg, access)
	})
	return t.rejected(err)
}

func (t *BreakingTransport) Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error) {
	res, err := t.breaker.Execute(func() (any, error) {
		return t.next.Upload(ctx, attachment, payload)
	})
	if err != nil {
		return nil, t.rejected(err)
	}
	return res.(*coreDomain.AttachmentPointer), nil
}

// State reports the breaker state name.
func (t *BreakingTransport) State() string {
	return t.breaker.State().String()
}

func (t *BreakingTransport) rejected(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.logger.Warn("Transport call rejected by circuit breaker", "error", err)
		return fmt.Errorf("transport unavailable: %v: %w", err, domain.ErrRetryLater)
	}
	return err
}

// isGatewayFailure reports whether err says something about the gateway
// itself rather than about the recipient or the message.
func isGatewayFailure(err error) bool {
	var untrusted *domain.UntrustedIdentityError
	var transportErr *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrUnregisteredUser),
		errors.Is(err, domain.ErrUndeliverable),
		errors.Is(err, fs.ErrNotExist),
		errors.As(err, &untrusted),
		errors.As(err, &transportErr):
		return false
	}
	return true
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
