package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunPipelineTask executes one pipeline pass. Scheduled runs carry an
// active-hours check; manual runs leave it nil and always execute.
type RunPipelineTask struct {
	Task
	runner   Runner
	isActive func(time.Time) bool
	now      func() time.Time
}

func NewRunPipelineTask(runner Runner, isActive func(time.Time) bool) *RunPipelineTask {
	return &RunPipelineTask{
		Task:     NewTask(TaskTypeRunPipeline),
		runner:   runner,
		isActive: isActive,
		now:      time.Now,
	}
}

func (t *RunPipelineTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if t.isActive != nil && !t.isActive(t.now()) {
		slog.Debug("Outside active hours, skipping run", "id", t.ID)
		return nil
	}

	report, err := t.runner.Run(ctx)
	if err != nil {
		slog.Error("Task failed", "type", "RunPipeline", "id", t.ID, "error", err)
		return fmt.Errorf("failed to run pipeline: %w", err)
	}

	slog.Info("Task completed",
		"type", "RunPipeline",
		"state", report.State,
		"delivered", report.Delivered,
		"errors", report.Errors,
		"duration", t.GetDuration())

	return nil
}
