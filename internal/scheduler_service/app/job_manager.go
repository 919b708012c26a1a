package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

var errLifespanExceeded = errors.New("job lifespan exceeded")

// ManagerConfig holds configuration specific to the JobManager.
type ManagerConfig struct {
	Workers     int           `mapstructure:"JOB_WORKERS"`
	BaseBackoff time.Duration `mapstructure:"JOB_BASE_BACKOFF"`
	MaxBackoff  time.Duration `mapstructure:"JOB_MAX_BACKOFF"`
}

type entry struct {
	job        domain.Job
	params     domain.Parameters
	jobType    string
	waitingOn  map[uuid.UUID]struct{}
	dependents []uuid.UUID
	attempt    int
	status     domain.JobStatus
	// withdrawn is set by Cancel while the job is running.
	withdrawn bool
	timer     *time.Timer
}

// JobManager runs jobs as a dependency graph. A job becomes runnable only when
// every job it depends on has completed successfully. Jobs sharing a queue key
// run one at a time in the order they became runnable.
type JobManager struct {
	store     domain.JobStore
	factories map[string]domain.Factory
	logger    *slog.Logger
	config    ManagerConfig
	now       func() time.Time
	backoff   func(attempt int) time.Duration

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	ready   []*entry
	busy    map[string]bool
	stopped bool
	wake    chan struct{}

	onState func(running bool)
}

// NewJobManager creates a JobManager. store may be nil for a purely
// in-memory manager.
func NewJobManager(store domain.JobStore, logger *slog.Logger, cfg ManagerConfig) *JobManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	m := &JobManager{
		store:     store,
		factories: make(map[string]domain.Factory),
		logger:    logger.With("component", "job_manager"),
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[uuid.UUID]*entry),
		busy:      make(map[string]bool),
		wake:      make(chan struct{}, 1),
	}
	m.backoff = func(attempt int) time.Duration {
		return fullJitter(exponentialBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt))
	}
	return m
}

// RegisterFactory makes jobs with key restorable.
func (m *JobManager) RegisterFactory(key string, f domain.Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[key] = f
}

// OnStateChange registers fn to be told when the worker pool starts and stops.
// It must be called before Run.
func (m *JobManager) OnStateChange(fn func(running bool)) {
	m.onState = fn
}

// Add enqueues a single job with no dependencies.
func (m *JobManager) Add(ctx context.Context, job domain.Job) error {
	return m.StartChain(job).Enqueue(ctx)
}

// Pending returns the number of jobs that have not finished.
func (m *JobManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run starts the worker pool and blocks until ctx is done.
func (m *JobManager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Job manager starting", "workers", m.config.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.config.Workers; i++ {
		g.Go(func() error {
			m.work(gctx)
			return nil
		})
	}
	if m.onState != nil {
		m.onState(true)
	}
	err := g.Wait()
	m.stop()
	if m.onState != nil {
		m.onState(false)
	}
	m.logger.InfoContext(ctx, "Job manager stopped")
	return err
}

// Cancel withdraws a job and everything depending on it. A running job is
// canceled once its current attempt returns.
func (m *JobManager) Cancel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if e.status == domain.StatusProcessing {
		e.withdrawn = true
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "Cancellation requested for running job", "job_id", id)
		return nil
	}
	canceled := m.detachLocked(e, domain.StatusCanceled)
	m.mu.Unlock()

	m.notifyCanceled(ctx, canceled, "withdrawn")
	return nil
}

func (m *JobManager) work(ctx context.Context) {
	for {
		e := m.next()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		m.execute(ctx, e)
	}
}

func (m *JobManager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// next pops the first runnable entry whose queue is free.
func (m *JobManager) next() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	for i, e := range m.ready {
		if e.params.Queue != "" && m.busy[e.params.Queue] {
			continue
		}
		m.ready = append(m.ready[:i], m.ready[i+1:]...)
		if e.params.Queue != "" {
			m.busy[e.params.Queue] = true
		}
		e.status = domain.StatusProcessing
		e.attempt++
		if len(m.ready) > 0 {
			m.signal()
		}
		return e
	}
	return nil
}

func (m *JobManager) execute(ctx context.Context, e *entry) {
	bg := context.WithoutCancel(ctx)
	id := e.params.ID
	log := m.logger.With("job_id", id, "job_type", e.jobType, "attempt", e.attempt)

	if e.params.Expired(m.now()) {
		log.WarnContext(ctx, "Job lifespan exceeded, canceling")
		m.finish(bg, e, errLifespanExceeded, false)
		return
	}

	m.persistStatus(bg, id, domain.StatusProcessing, e.attempt, "")
	log.InfoContext(ctx, "Running job")

	timer := prometheus.NewTimer(jobProcessingDurationHist.WithLabelValues(e.jobType))
	err := runSafely(ctx, e.job)
	timer.ObserveDuration()

	retry := false
	if err != nil {
		retry = errors.Is(err, domain.ErrRetryLater) || e.job.OnShouldRetry(err)
	}
	m.finish(bg, e, err, retry)
}

func runSafely(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (m *JobManager) finish(ctx context.Context, e *entry, runErr error, retry bool) {
	id := e.params.ID
	log := m.logger.With("job_id", id, "job_type", e.jobType, "attempt", e.attempt)

	m.mu.Lock()
	if e.params.Queue != "" {
		delete(m.busy, e.params.Queue)
	}
	withdrawn := e.withdrawn

	switch {
	case runErr == nil:
		e.status = domain.StatusCompleted
		delete(m.entries, id)
		for _, depID := range e.dependents {
			dep, ok := m.entries[depID]
			if !ok {
				continue
			}
			delete(dep.waitingOn, id)
			if len(dep.waitingOn) == 0 && dep.status == domain.StatusPending {
				m.ready = append(m.ready, dep)
			}
		}
		jobsPendingGauge.Set(float64(len(m.entries)))
		m.mu.Unlock()
		m.signal()

		log.InfoContext(ctx, "Job completed")
		jobsProcessedCounter.WithLabelValues(e.jobType, "success").Inc()
		m.forget(ctx, id)
		return

	case !withdrawn && retry && !e.params.AttemptsExhausted(e.attempt) && !e.params.Expired(m.now()):
		e.status = domain.StatusRetry
		delay := m.backoff(e.attempt)
		if !m.stopped {
			e.timer = time.AfterFunc(delay, func() { m.requeue(id) })
		}
		m.mu.Unlock()
		m.signal()

		log.WarnContext(ctx, "Job failed transiently, scheduling retry", "error", runErr, "retry_in", delay)
		jobsProcessedCounter.WithLabelValues(e.jobType, "retry").Inc()
		m.persistStatus(ctx, id, domain.StatusRetry, e.attempt, runErr.Error())
		return
	}

	status, reason := domain.StatusFailed, runErr.Error()
	if withdrawn {
		status, reason = domain.StatusCanceled, "withdrawn"
	}
	canceled := m.detachLocked(e, status)
	m.mu.Unlock()
	m.signal()

	log.ErrorContext(ctx, "Job failed permanently", "error", runErr, "status", status)
	m.notifyCanceled(ctx, canceled, reason)
}

func (m *JobManager) requeue(id uuid.UUID) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok && e.status == domain.StatusRetry && !m.stopped {
		e.status = domain.StatusPending
		e.timer = nil
		m.ready = append(m.ready, e)
	}
	m.mu.Unlock()
	m.signal()
}

// detachLocked removes root and its transitive dependents from the graph.
// The caller must hold m.mu. Root comes first in the returned slice.
func (m *JobManager) detachLocked(root *entry, rootStatus domain.JobStatus) []*entry {
	var out []*entry
	seen := map[uuid.UUID]bool{}
	queue := []*entry{root}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if seen[e.params.ID] {
			continue
		}
		seen[e.params.ID] = true

		if e == root {
			e.status = rootStatus
		} else {
			e.status = domain.StatusCanceled
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		delete(m.entries, e.params.ID)
		m.removeReadyLocked(e)
		out = append(out, e)

		for _, depID := range e.dependents {
			if dep, ok := m.entries[depID]; ok {
				queue = append(queue, dep)
			}
		}
	}
	jobsPendingGauge.Set(float64(len(m.entries)))
	return out
}

func (m *JobManager) removeReadyLocked(target *entry) {
	for i, e := range m.ready {
		if e == target {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			return
		}
	}
}

func (m *JobManager) notifyCanceled(ctx context.Context, entries []*entry, reason string) {
	for i, e := range entries {
		r := reason
		if i > 0 {
			r = "dependency failed"
		}
		m.logger.InfoContext(ctx, "Canceling job", "job_id", e.params.ID, "job_type", e.jobType, "reason", r)
		e.job.OnCanceled(ctx)
		jobsProcessedCounter.WithLabelValues(e.jobType, string(e.status)).Inc()
	}
	// Dependents before parents: Restore reads a missing parent as completed.
	for i := len(entries) - 1; i >= 0; i-- {
		m.forget(ctx, entries[i].params.ID)
	}
}

// forget removes the stored record of a finished job.
func (m *JobManager) forget(ctx context.Context, id uuid.UUID) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.ErrorContext(ctx, "Failed to delete finished job", "error", err, "job_id", id)
	}
}

func (m *JobManager) persistStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, attempt int, lastError string) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateStatus(ctx, id, status, attempt, lastError); err != nil {
		m.logger.ErrorContext(ctx, "Failed to persist job status", "error", err, "job_id", id, "status", status)
	}
}

func (m *JobManager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}
