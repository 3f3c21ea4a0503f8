package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/rss-relay/app/pipeline"
)

type mockRunner struct {
	calls atomic.Int32
	err   error
	ran   chan struct{}
}

var _ Runner = (*mockRunner)(nil)

func newMockRunner() *mockRunner {
	return &mockRunner{ran: make(chan struct{}, 8)}
}

func (m *mockRunner) Run(context.Context) (pipeline.Report, error) {
	m.calls.Add(1)
	signal(m.ran)
	return pipeline.Report{State: pipeline.StateIdle, Delivered: 2}, m.err
}

type mockPruner struct {
	days atomic.Int32
	err  error
	ran  chan struct{}
}

var _ Pruner = (*mockPruner)(nil)

func newMockPruner() *mockPruner {
	return &mockPruner{ran: make(chan struct{}, 8)}
}

func (m *mockPruner) Prune(_ context.Context, days int) (int64, error) {
	m.days.Store(int32(days))
	signal(m.ran)
	return 3, m.err
}

// flakyTask fails until it has been executed failures+1 times.
type flakyTask struct {
	Task
	failures int
	runs     atomic.Int32
	done     chan struct{}
}

func (t *flakyTask) Execute(context.Context) error {
	if int(t.runs.Add(1)) <= t.failures {
		return errors.New("temporary failure")
	}
	close(t.done)
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestRunPipelineTask(t *testing.T) {
	tests := []struct {
		name     string
		isActive func(time.Time) bool
		runErr   error
		wantRuns int32
		wantErr  bool
	}{
		{"manual run", nil, nil, 1, false},
		{"inside active hours", func(time.Time) bool { return true }, nil, 1, false},
		{"outside active hours", func(time.Time) bool { return false }, nil, 0, false},
		{"runner error", nil, errors.New("database is locked"), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newMockRunner()
			runner.err = tt.runErr

			task := NewRunPipelineTask(runner, tt.isActive)
			err := task.Execute(context.Background())

			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, tt.runErr) {
				t.Errorf("Expected wrapped runner error, got %v", err)
			}
			if got := runner.calls.Load(); got != tt.wantRuns {
				t.Errorf("Expected %d runs, got %d", tt.wantRuns, got)
			}
		})
	}
}

func TestRunPipelineTaskDoesNotRetry(t *testing.T) {
	task := NewRunPipelineTask(newMockRunner(), nil)

	if task.CanRetry() {
		t.Error("Pipeline runs should not be retried")
	}
	if task.GetType() != TaskTypeRunPipeline {
		t.Errorf("Unexpected type %s", task.GetType())
	}
}

func TestRunPipelineTaskCancelledContext(t *testing.T) {
	runner := newMockRunner()
	task := NewRunPipelineTask(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := task.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if runner.calls.Load() != 0 {
		t.Error("Runner must not be called with a cancelled context")
	}
}

func TestPruneLedgerTask(t *testing.T) {
	pruner := newMockPruner()
	task := NewPruneLedgerTask(pruner, 30)

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if pruner.days.Load() != 30 {
		t.Errorf("Expected 30 days, got %d", pruner.days.Load())
	}

	pruner.err = errors.New("disk I/O error")
	if err := task.Execute(context.Background()); err == nil {
		t.Error("Expected error from failing pruner")
	}
}

func TestTaskRetryCount(t *testing.T) {
	task := NewTask(TaskTypePruneLedger)

	for i := 0; i < DefaultMaxRetries; i++ {
		if !task.CanRetry() {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
		task.IncrementRetryCount()
	}

	if task.CanRetry() {
		t.Error("Expected retries to be exhausted")
	}
	if task.GetDuration() != 0 {
		t.Error("Duration should be zero before start")
	}

	task.Start()
	if task.StartedAt == nil {
		t.Error("Start should record the start time")
	}
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		taskType TaskType
		want     int
	}{
		{TaskTypeRunPipeline, 0},
		{TaskTypePruneLedger, DefaultMaxRetries},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			if got := NewTask(tt.taskType).MaxRetries; got != tt.want {
				t.Errorf("Expected %d retries, got %d", tt.want, got)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	task := NewTask(TaskTypePruneLedger)

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for i, delay := range want {
		task.RetryCount = i
		if got := task.RetryDelay(); got != delay {
			t.Errorf("retry %d: expected %s, got %s", i, delay, got)
		}
	}

	task.RetryCount = 10
	if got := task.RetryDelay(); got != maxRetryDelay {
		t.Errorf("Expected delay capped at %s, got %s", maxRetryDelay, got)
	}
}

func TestSchedulerStartupTasks(t *testing.T) {
	runner := newMockRunner()
	pruner := newMockPruner()

	scheduler := NewScheduler(runner, pruner, Options{RunInterval: time.Hour, RetentionDays: 14})
	scheduler.Start()
	defer scheduler.Stop()

	waitFor(t, pruner.ran, "startup prune")
	waitFor(t, runner.ran, "startup run")

	if pruner.days.Load() != 14 {
		t.Errorf("Expected retention of 14 days, got %d", pruner.days.Load())
	}
}

func TestSchedulerTicks(t *testing.T) {
	runner := newMockRunner()

	scheduler := NewScheduler(runner, nil, Options{RunInterval: 20 * time.Millisecond})
	scheduler.Start()

	waitFor(t, runner.ran, "startup run")
	waitFor(t, runner.ran, "scheduled run")

	scheduler.Stop()

	if runner.calls.Load() < 2 {
		t.Errorf("Expected at least 2 runs, got %d", runner.calls.Load())
	}
}

func TestSchedulerRetriesFailedTask(t *testing.T) {
	scheduler := NewScheduler(newMockRunner(), nil, Options{RunInterval: time.Hour})

	task := &flakyTask{Task: NewTask(TaskTypePruneLedger), failures: 1, done: make(chan struct{})}
	if err := scheduler.EnqueueTask(task); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	waitFor(t, task.done, "retried task")

	if task.GetRetryCount() != 1 {
		t.Errorf("Expected 1 retry, got %d", task.GetRetryCount())
	}
}

func TestEnqueueTaskQueueFull(t *testing.T) {
	scheduler := NewScheduler(newMockRunner(), nil, Options{})

	for i := 0; i < cap(scheduler.taskQueue); i++ {
		if err := scheduler.EnqueueTask(NewRunPipelineTask(newMockRunner(), nil)); err != nil {
			t.Fatalf("EnqueueTask() error = %v", err)
		}
	}

	if err := scheduler.EnqueueTask(NewRunPipelineTask(newMockRunner(), nil)); err == nil {
		t.Error("Expected error when the queue is full")
	}

	if scheduler.opts.RunInterval != defaultRunInterval {
		t.Errorf("Expected default run interval, got %s", scheduler.opts.RunInterval)
	}
}
