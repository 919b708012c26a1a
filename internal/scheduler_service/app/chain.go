package app

import (
	"context"
	"fmt"

	"github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
	"github.com/google/uuid"
)

// Chain is a sequence of job stages; every job of a stage depends on all
// jobs of the previous non-empty stage.
type Chain struct {
	m      *JobManager
	stages [][]domain.Job
}

// StartChain begins a chain whose first stage is jobs.
func (m *JobManager) StartChain(jobs ...domain.Job) *Chain {
	return &Chain{m: m, stages: [][]domain.Job{jobs}}
}

// Then appends a stage that runs after the previous one completes.
func (c *Chain) Then(jobs ...domain.Job) *Chain {
	c.stages = append(c.stages, jobs)
	return c
}

// EnqueueChain enqueues dependents behind first as a two-stage chain.
func (m *JobManager) EnqueueChain(ctx context.Context, first, dependents []domain.Job) error {
	return m.StartChain(first...).Then(dependents...).Enqueue(ctx)
}

// Enqueue persists the chain, runs OnAdded for each job in order, then makes
// the first stage runnable.
func (c *Chain) Enqueue(ctx context.Context) error {
	m := c.m

	var (
		created []*entry
		prevIDs []uuid.UUID
	)
	for _, stage := range c.stages {
		if len(stage) == 0 {
			continue
		}
		ids := make([]uuid.UUID, 0, len(stage))
		for _, job := range stage {
			params := job.Parameters()
			e := &entry{
				job:       job,
				params:    params,
				jobType:   job.FactoryKey(),
				waitingOn: make(map[uuid.UUID]struct{}, len(prevIDs)),
				status:    domain.StatusPending,
			}
			for _, dep := range prevIDs {
				e.waitingOn[dep] = struct{}{}
			}
			created = append(created, e)
			ids = append(ids, params.ID)
		}
		prevIDs = ids
	}
	if len(created) == 0 {
		return nil
	}

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return domain.ErrManagerStopped
	}

	if err := c.persist(ctx, created); err != nil {
		return err
	}

	for _, e := range created {
		e.job.OnAdded(ctx)
	}

	m.mu.Lock()
	for _, e := range created {
		m.entries[e.params.ID] = e
	}
	for _, e := range created {
		for dep := range e.waitingOn {
			if parent, ok := m.entries[dep]; ok {
				parent.dependents = append(parent.dependents, e.params.ID)
			}
		}
		if len(e.waitingOn) == 0 {
			m.ready = append(m.ready, e)
		}
	}
	jobsPendingGauge.Set(float64(len(m.entries)))
	m.mu.Unlock()
	m.signal()

	m.logger.InfoContext(ctx, "Job chain enqueued", "jobs", len(created), "stages", len(c.stages))
	return nil
}

func (c *Chain) persist(ctx context.Context, created []*entry) error {
	m := c.m
	if m.store == nil {
		return nil
	}
	var inserted []uuid.UUID
	for _, e := range created {
		rec, err := newRecord(e)
		if err != nil {
			m.rollback(ctx, inserted)
			return err
		}
		if err := m.store.Insert(ctx, rec); err != nil {
			m.logger.ErrorContext(ctx, "Failed to persist job", "error", err, "job_id", e.params.ID, "job_type", e.jobType)
			m.rollback(ctx, inserted)
			return fmt.Errorf("persist job %s: %w", e.params.ID, err)
		}
		inserted = append(inserted, e.params.ID)
	}
	return nil
}

func newRecord(e *entry) (*domain.JobRecord, error) {
	data, err := e.job.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize %s job: %w", e.jobType, err)
	}
	raw, err := data.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal %s job data: %w", e.jobType, err)
	}
	deps := make([]uuid.UUID, 0, len(e.waitingOn))
	for id := range e.waitingOn {
		deps = append(deps, id)
	}
	return &domain.JobRecord{
		ID:          e.params.ID,
		FactoryKey:  e.jobType,
		Queue:       e.params.Queue,
		Data:        raw,
		DependsOn:   deps,
		Status:      domain.StatusPending,
		MaxAttempts: e.params.MaxAttempts,
		Lifespan:    e.params.Lifespan,
		CreatedAt:   e.params.CreatedAt,
		UpdatedAt:   e.params.CreatedAt,
	}, nil
}

func (m *JobManager) rollback(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.ErrorContext(ctx, "Failed to roll back persisted job", "error", err, "job_id", id)
		}
	}
}

// Restore rebuilds unfinished jobs from the store. Dependencies that are no
// longer unfinished are treated as completed; jobs depending on a record that
// cannot be rebuilt are canceled. OnAdded is not run again.
func (m *JobManager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}

	restored := make([]*entry, 0, len(records))
	broken := make(map[uuid.UUID]bool)
	for _, rec := range records {
		e, err := m.rebuild(rec)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to restore job", "error", err, "job_id", rec.ID, "job_type", rec.FactoryKey)
			m.persistStatus(ctx, rec.ID, domain.StatusFailed, rec.Attempt, err.Error())
			broken[rec.ID] = true
			continue
		}
		restored = append(restored, e)
	}

	m.mu.Lock()
	for _, e := range restored {
		m.entries[e.params.ID] = e
	}
	var orphans []*entry
	for _, e := range restored {
		for dep := range e.waitingOn {
			if broken[dep] {
				orphans = append(orphans, e)
			}
			parent, ok := m.entries[dep]
			if !ok {
				delete(e.waitingOn, dep)
				continue
			}
			parent.dependents = append(parent.dependents, e.params.ID)
		}
	}
	var canceled []*entry
	for _, e := range orphans {
		if _, ok := m.entries[e.params.ID]; ok {
			canceled = append(canceled, m.detachLocked(e, domain.StatusCanceled)...)
		}
	}
	count := 0
	for _, e := range restored {
		if _, ok := m.entries[e.params.ID]; !ok {
			continue
		}
		count++
		if len(e.waitingOn) == 0 {
			m.ready = append(m.ready, e)
		}
	}
	jobsPendingGauge.Set(float64(len(m.entries)))
	m.mu.Unlock()
	m.signal()

	if len(canceled) > 0 {
		m.notifyCanceled(ctx, canceled, "dependency failed")
	}
	m.logger.InfoContext(ctx, "Restored unfinished jobs", "count", count)
	return count, nil
}

func (m *JobManager) rebuild(rec *domain.JobRecord) (*entry, error) {
	m.mu.Lock()
	factory, ok := m.factories[rec.FactoryKey]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownFactory, rec.FactoryKey)
	}
	data, err := domain.UnmarshalData(rec.Data)
	if err != nil {
		return nil, err
	}
	job, err := factory.Create(rec.Parameters(), data)
	if err != nil {
		return nil, fmt.Errorf("create %s job: %w", rec.FactoryKey, err)
	}
	e := &entry{
		job:       job,
		params:    rec.Parameters(),
		jobType:   rec.FactoryKey,
		waitingOn: make(map[uuid.UUID]struct{}, len(rec.DependsOn)),
		attempt:   rec.Attempt,
		status:    domain.StatusPending,
	}
	for _, dep := range rec.DependsOn {
		e.waitingOn[dep] = struct{}{}
	}
	return e, nil
}
