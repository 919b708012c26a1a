package domain

import (
	"context"

	"github.com/google/uuid"
)

// JobStore persists jobs so they survive restarts.
type JobStore interface {
	Insert(ctx context.Context, rec *JobRecord) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status JobStatus, attempt int, lastError string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListUnfinished returns pending, processing and retry jobs in creation order.
	ListUnfinished(ctx context.Context) ([]*JobRecord, error)
}
