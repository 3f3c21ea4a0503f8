package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	defaultRunInterval   = 41 * time.Minute
	defaultTaskTimeout   = 15 * time.Minute
	defaultPruneInterval = 24 * time.Hour
)

type Options struct {
	RunInterval   time.Duration
	PruneInterval time.Duration
	RetentionDays int
	TaskTimeout   time.Duration
	// IsActive gates scheduled runs; nil means always active.
	IsActive func(time.Time) bool
}

// Scheduler enqueues a pipeline run on every tick and a ledger sweep once
// per prune interval. A single worker executes tasks in order.
type Scheduler struct {
	runner    Runner
	pruner    Pruner
	opts      Options
	lastPrune time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface
}

func NewScheduler(runner Runner, pruner Pruner, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.RunInterval <= 0 {
		opts.RunInterval = defaultRunInterval
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = defaultPruneInterval
	}

	return &Scheduler{
		runner:    runner,
		pruner:    pruner,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan TaskInterface, 32),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker(0)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.opts.RunInterval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	s.enqueuePrune()
	s.enqueueRun()
}

func (s *Scheduler) enqueueTasks() {
	if time.Since(s.lastPrune) >= s.opts.PruneInterval {
		s.enqueuePrune()
	}
	s.enqueueRun()
}

func (s *Scheduler) enqueueRun() {
	if err := s.EnqueueTask(NewRunPipelineTask(s.runner, s.opts.IsActive)); err != nil {
		slog.Warn("Failed to enqueue RunPipelineTask", "error", err)
	}
}

func (s *Scheduler) enqueuePrune() {
	if s.pruner == nil || s.opts.RetentionDays <= 0 {
		return
	}

	if err := s.EnqueueTask(NewPruneLedgerTask(s.pruner, s.opts.RetentionDays)); err != nil {
		slog.Warn("Failed to enqueue PruneLedgerTask", "error", err)
		return
	}
	s.lastPrune = time.Now()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.TaskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := task.RetryDelay()

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()

				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
				case <-time.After(retryDelay):
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
