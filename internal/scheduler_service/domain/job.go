package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the persisted state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"    // waiting on dependencies or a worker
	StatusProcessing JobStatus = "processing" // picked up by a worker
	StatusRetry      JobStatus = "retry"      // failed transiently, waiting for backoff
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

// Unlimited disables the attempt limit.
const Unlimited = -1

// Parameters are the scheduling attributes of a job.
type Parameters struct {
	ID          uuid.UUID     `json:"id"`
	Queue       string        `json:"queue,omitempty"`
	MaxAttempts int           `json:"max_attempts"`
	Lifespan    time.Duration `json:"lifespan"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewParameters returns parameters with a fresh id.
// A zero lifespan means the job never expires.
func NewParameters(queue string, maxAttempts int, lifespan time.Duration) Parameters {
	return Parameters{
		ID:          uuid.New(),
		Queue:       queue,
		MaxAttempts: maxAttempts,
		Lifespan:    lifespan,
		CreatedAt:   time.Now().UTC(),
	}
}

// Expired reports whether the lifespan elapsed at now.
func (p Parameters) Expired(now time.Time) bool {
	return p.Lifespan > 0 && now.Sub(p.CreatedAt) > p.Lifespan
}

// AttemptsExhausted reports whether attempt reached MaxAttempts.
func (p Parameters) AttemptsExhausted(attempt int) bool {
	return p.MaxAttempts != Unlimited && attempt >= p.MaxAttempts
}

// Job is a unit of work run by the manager.
type Job interface {
	Parameters() Parameters
	// FactoryKey names the Factory able to rebuild the job from its Data.
	FactoryKey() string
	Serialize() (Data, error)
	// OnAdded runs once, synchronously, when the job is first enqueued.
	OnAdded(ctx context.Context)
	Run(ctx context.Context) error
	// OnShouldRetry is consulted for errors other than ErrRetryLater.
	OnShouldRetry(err error) bool
	// OnCanceled runs when the job fails permanently or is withdrawn.
	OnCanceled(ctx context.Context)
}

// Factory rebuilds a job from persisted parameters and data.
type Factory interface {
	Create(params Parameters, data Data) (Job, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(params Parameters, data Data) (Job, error)

func (f FactoryFunc) Create(params Parameters, data Data) (Job, error) { return f(params, data) }

// Data is the durable key/value bag a job serializes itself into.
type Data struct {
	Longs   map[string]int64  `json:"longs,omitempty"`
	Strings map[string]string `json:"strings,omitempty"`
}

// DataBuilder accumulates Data entries.
type DataBuilder struct {
	data Data
}

// NewDataBuilder returns an empty builder.
func NewDataBuilder() *DataBuilder {
	return &DataBuilder{data: Data{Longs: map[string]int64{}, Strings: map[string]string{}}}
}

func (b *DataBuilder) PutLong(key string, v int64) *DataBuilder {
	b.data.Longs[key] = v
	return b
}

func (b *DataBuilder) PutString(key, v string) *DataBuilder {
	b.data.Strings[key] = v
	return b
}

func (b *DataBuilder) Build() Data { return b.data }

// GetLong returns the long stored under key.
func (d Data) GetLong(key string) (int64, error) {
	v, ok := d.Longs[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return v, nil
}

// GetString returns the string stored under key.
func (d Data) GetString(key string) (string, error) {
	v, ok := d.Strings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return v, nil
}

// Marshal encodes the bag as JSON.
func (d Data) Marshal() ([]byte, error) { return json.Marshal(d) }

// UnmarshalData decodes a bag produced by Marshal.
func UnmarshalData(b []byte) (Data, error) {
	var d Data
	if len(b) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, fmt.Errorf("decode job data: %w", err)
	}
	return d, nil
}

// JobRecord is the persisted form of a job.
type JobRecord struct {
	ID          uuid.UUID       `json:"id"`
	FactoryKey  string          `json:"factory_key"`
	Queue       string          `json:"queue,omitempty"`
	Data        json.RawMessage `json:"data"`
	DependsOn   []uuid.UUID     `json:"depends_on,omitempty"`
	Status      JobStatus       `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Lifespan    time.Duration   `json:"lifespan"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Parameters rebuilds scheduling parameters from the record.
func (r *JobRecord) Parameters() Parameters {
	return Parameters{
		ID:          r.ID,
		Queue:       r.Queue,
		MaxAttempts: r.MaxAttempts,
		Lifespan:    r.Lifespan,
		CreatedAt:   r.CreatedAt,
	}
}
