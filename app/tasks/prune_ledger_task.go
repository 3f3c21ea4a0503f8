package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type PruneLedgerTask struct {
	Task
	pruner Pruner
	days   int
}

func NewPruneLedgerTask(pruner Pruner, days int) *PruneLedgerTask {
	return &PruneLedgerTask{
		Task:   NewTask(TaskTypePruneLedger),
		pruner: pruner,
		days:   days,
	}
}

func (t *PruneLedgerTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	removed, err := t.pruner.Prune(ctx, t.days)
	if err != nil {
		slog.Error("Task failed", "type", "PruneLedger", "days", t.days, "error", err)
		return fmt.Errorf("failed to prune ledger: %w", err)
	}

	slog.Info("Task completed",
		"type", "PruneLedger",
		"days", t.days,
		"removed", removed,
		"duration", t.GetDuration())

	return nil
}
