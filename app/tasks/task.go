package tasks

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type TaskType string

const (
	TaskTypeRunPipeline TaskType = "run_pipeline"
	TaskTypePruneLedger TaskType = "prune_ledger"
)

const (
	DefaultMaxRetries = 3
	maxRetryDelay     = 30 * time.Second
)

// retryPolicy overrides DefaultMaxRetries per task type. Pipeline runs are
// not retried: the next tick starts a fresh run.
var retryPolicy = map[TaskType]int{
	TaskTypeRunPipeline: 0,
}

func maxRetriesFor(taskType TaskType) int {
	if retries, ok := retryPolicy[taskType]; ok {
		return retries
	}
	return DefaultMaxRetries
}

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
	RetryDelay() time.Duration
}

type Task struct {
	ID         string
	Type       TaskType
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetRetryCount() int {
	return t.RetryCount
}

func (t *Task) GetMaxRetries() int {
	return t.MaxRetries
}

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

// RetryDelay doubles with every attempt, capped at maxRetryDelay.
func (t *Task) RetryDelay() time.Duration {
	if t.RetryCount <= 0 {
		return 0
	}
	delay := time.Duration(1<<uint(t.RetryCount-1)) * time.Second
	return min(delay, maxRetryDelay)
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType) Task {
	uniqueID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Intn(10000))

	return Task{
		ID:         uniqueID,
		Type:       taskType,
		RetryCount: 0,
		MaxRetries: maxRetriesFor(taskType),
	}
}
