package pipeline

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
)

type Registry interface {
	ListFeeds(ctx context.Context) ([]database.Feed, error)
}

type Ledger interface {
	Exists(ctx context.Context, checksum string) (bool, error)
	Record(ctx context.Context, checksum string, publishedAt time.Time) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (*feed.Document, error)
}

type Normalizer interface {
	Normalize(entry feed.RawEntry) (feed.Article, error)
}

type Notifier interface {
	Deliver(ctx context.Context, article feed.Article) error
	DeliverToAdmin(ctx context.Context, message string) error
}

// Rewriter never fails; on error it returns the input unchanged.
type Rewriter interface {
	Rewrite(ctx context.Context, text, language string) string
}
