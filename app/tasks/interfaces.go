package tasks

import (
	"context"

	"github.com/lysyi3m/rss-relay/app/pipeline"
)

// TaskSchedulerInterface is used by main and the HTTP API to queue work for
// the background worker.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

type Pruner interface {
	Prune(ctx context.Context, days int) (int64, error)
}
