package expiration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
)

// Store lists and removes expiring messages.
type Store interface {
	ListExpiring(ctx context.Context) ([]coreDomain.ExpiringMessage, error)
	DeleteMessage(ctx context.Context, id int64) error
}

// Manager deletes messages once their expiration timer runs out.
type Manager struct {
	deleter Store
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	stopped bool
}

func NewManager(deleter Store, logger *slog.Logger) *Manager {
	return &Manager{
		deleter: deleter,
		logger:  logger.With("component", "expiration_manager"),
		now:     time.Now,
		timeout: 10 * time.Second,
		timers:  make(map[int64]*time.Timer),
	}
}

// ScheduleDeletion deletes the message at startedAt+expiresIn. Rescheduling a
// message replaces its pending timer.
func (m *Manager) ScheduleDeletion(ctx context.Context, messageID int64, startedAt time.Time, expiresIn time.Duration) {
	delay := startedAt.Add(expiresIn).Sub(m.now())
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if t, ok := m.timers[messageID]; ok {
		t.Stop()
	}
	m.timers[messageID] = time.AfterFunc(delay, func() { m.expire(messageID) })
	m.logger.DebugContext(ctx, "Scheduled message deletion", "message_id", messageID, "delay", delay)
}

// Restore schedules deletion of every message whose timer started before a
// restart. Overdue messages are deleted right away.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	expiring, err := m.deleter.ListExpiring(ctx)
	if err != nil {
		return 0, fmt.Errorf("list expiring messages: %w", err)
	}
	for _, msg := range expiring {
		m.ScheduleDeletion(ctx, msg.ID, msg.ExpireStartedAt, msg.ExpiresIn)
	}
	m.logger.InfoContext(ctx, "Restored expiration timers", "count", len(expiring))
	return len(expiring), nil
}

// Pending returns the number of scheduled deletions.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every pending deletion.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) expire(messageID int64) {
	m.mu.Lock()
	delete(m.timers, messageID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.deleter.DeleteMessage(ctx, messageID)
	switch {
	case err == nil:
		m.logger.Info("Deleted expired message", "message_id", messageID)
	case errors.Is(err, domain.ErrNotFound):
		m.logger.Debug("Expired message already gone", "message_id", messageID)
	default:
		m.logger.Error("Failed to delete expired message", "message_id", messageID, "error", err)
	}
}
