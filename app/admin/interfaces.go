package admin

import (
	"context"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/pipeline"
)

type Registry interface {
	ListFeeds(ctx context.Context) ([]database.Feed, error)
	AddFeed(ctx context.Context, feedURL string) (*database.Feed, error)
	RemoveFeed(ctx context.Context, id int64) error
	GetFeedCount(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) ([]database.Feed, error)
}

type Ledger interface {
	PruneOlderThan(ctx context.Context, days int) (int64, error)
	Count(ctx context.Context) (int, error)
}

type FeedChecker interface {
	IsWellFormedFeed(ctx context.Context, url string) bool
}

type FeedFinder interface {
	Discover(ctx context.Context, pageURL string) ([]string, error)
}

type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
	LastReport() *pipeline.Report
	State() pipeline.State
}
