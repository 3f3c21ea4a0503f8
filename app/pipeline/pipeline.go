package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
)

// Pipeline fetches every registered feed, keeps the articles that were not
// delivered yet and hands them to the notifier, newest first.
type Pipeline struct {
	registry   Registry
	ledger     Ledger
	fetcher    Fetcher
	normalizer Normalizer
	notifier   Notifier
	rewriter   Rewriter
	opts       Options
	now        func() time.Time

	// serializes runs
	runMu sync.Mutex

	mu         sync.RWMutex
	state      State
	lastReport *Report
}

func New(registry Registry, ledger Ledger, fetcher Fetcher, normalizer Normalizer, notifier Notifier, rewriter Rewriter, opts Options) *Pipeline {
	if opts.ErrorBudget <= 0 {
		opts.ErrorBudget = DefaultErrorBudget
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 1
	}
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = 1
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}

	return &Pipeline{
		registry:   registry,
		ledger:     ledger,
		fetcher:    fetcher,
		normalizer: normalizer,
		notifier:   notifier,
		rewriter:   rewriter,
		opts:       opts,
		now:        time.Now,
		state:      StateIdle,
	}
}

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastReport returns the report of the last completed run, or nil.
func (p *Pipeline) LastReport() *Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastReport == nil {
		return nil
	}
	report := *p.lastReport
	return &report
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// Run executes one pass. Only a registry failure or context cancellation is
// returned as an error; per-source and per-article failures end up in the report.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	began := time.Now()
	report := Report{State: StateIdle, StartedAt: p.now()}

	err := p.run(ctx, &report)

	report.Duration = time.Since(began)

	p.mu.Lock()
	p.state = StateIdle
	p.lastReport = &report
	p.mu.Unlock()

	if err != nil {
		return report, err
	}

	slog.Info("Pipeline run completed",
		"state", report.State,
		"duration", report.Duration,
		"sources", report.Sources,
		"failed_sources", report.FailedSources,
		"entries", report.Entries,
		"rejected", report.Rejected,
		"duplicates", report.Duplicates,
		"delivered", report.Delivered,
		"errors", report.Errors)

	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report *Report) error {
	p.setState(StateFetching)

	feeds, err := p.registry.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list feeds: %w", err)
	}

	report.Sources = len(feeds)
	if len(feeds) == 0 {
		slog.Info("No feeds registered, nothing to do")
		return nil
	}

	docs := p.fetchAll(ctx, feeds)
	report.Fetched = len(docs)
	report.FailedSources = len(feeds) - len(docs)

	if err := ctx.Err(); err != nil {
		return err
	}

	p.setState(StateNormalizing)

	entries := lo.FlatMap(docs, func(doc *feed.Document, _ int) []feed.RawEntry {
		return doc.Entries
	})
	report.Entries = len(entries)

	articles := make([]feed.Article, 0, len(entries))
	for _, entry := range entries {
		article, err := p.normalize(entry)
		if err != nil {
			report.Rejected++
			slog.Debug("Entry rejected", "source", entry.Source, "link", entry.Link, "error", err)
			continue
		}
		articles = append(articles, article)
	}

	slices.SortStableFunc(articles, func(a, b feed.Article) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})

	return p.deliver(ctx, articles, report)
}

func (p *Pipeline) fetchAll(ctx context.Context, feeds []database.Feed) []*feed.Document {
	results := make([]*feed.Document, len(feeds))
	sem := make(chan struct{}, p.opts.FetchWorkers)

	var wg sync.WaitGroup
	for i, source := range feeds {
		wg.Add(1)
		go func(i int, source database.Feed) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			doc, err := p.fetcher.Fetch(ctx, source.URL, p.opts.FetchTimeout)
			if err != nil {
				slog.Warn("Failed to fetch feed", "feed_id", source.ID, "url", source.URL, "error", err)
				return
			}
			results[i] = doc
		}(i, source)
	}
	wg.Wait()

	return lo.Filter(results, func(doc *feed.Document, _ int) bool {
		return doc != nil
	})
}

func (p *Pipeline) normalize(entry feed.RawEntry) (article feed.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while normalizing entry", "source", entry.Source, "link", entry.Link, "panic", r)
			err = fmt.Errorf("panic while normalizing entry: %v", r)
		}
	}()

	return p.normalizer.Normalize(entry)
}

func (p *Pipeline) deliver(ctx context.Context, articles []feed.Article, report *Report) error {
	var lastErr error

	for _, article := range articles {
		if report.Delivered >= p.opts.MaxArticles {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		p.setState(StateFiltering)

		if !p.isDeliverable(ctx, article, report) {
			continue
		}

		p.setState(StateDelivering)

		if err := p.deliverOne(ctx, article); err != nil {
			report.Errors++
			lastErr = &DeliveryError{Link: article.Link, Err: err}
			report.LastError = lastErr.Error()
			slog.Error("Delivery failed", "link", article.Link, "errors", report.Errors, "error", err)

			if report.Errors > p.opts.ErrorBudget {
				p.abort(ctx, report, lastErr)
				return nil
			}
			continue
		}

		report.Delivered++

		if p.opts.DryRun {
			continue
		}

		// a failed write may lead to a duplicate delivery on a later run
		if err := p.ledger.Record(ctx, article.Identity, article.PublishedAt); err != nil {
			slog.Error("Failed to record delivered article", "link", article.Link, "identity", article.Identity, "error", err)
			continue
		}

		slog.Info("Article delivered", "link", article.Link, "source", article.Source, "published_at", article.PublishedAt)
	}

	return nil
}

func (p *Pipeline) deliverOne(ctx context.Context, article feed.Article) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DeliveryTimeout)
	defer cancel()

	outgoing := article
	if p.rewriter != nil {
		outgoing = article.WithSummary(p.rewriter.Rewrite(ctx, article.Summary, p.opts.Language))
	}

	return p.notifier.Deliver(ctx, outgoing)
}

func (p *Pipeline) isDeliverable(ctx context.Context, article feed.Article, report *Report) bool {
	exists, err := p.ledger.Exists(ctx, article.Identity)
	if err != nil {
		slog.Warn("Failed to check ledger, skipping article", "link", article.Link, "error", err)
		return false
	}
	if exists {
		report.Duplicates++
		return false
	}

	now := p.now()

	if now.Sub(article.PublishedAt) > p.opts.MaxAge {
		report.TooOld++
		slog.Debug("Article too old", "link", article.Link, "published_at", article.PublishedAt)
		return false
	}

	if article.PublishedAt.After(now) {
		report.Future++
		slog.Warn("Article published in the future", "link", article.Link, "published_at", article.PublishedAt)
		return false
	}

	return true
}

func (p *Pipeline) abort(ctx context.Context, report *Report, lastErr error) {
	report.State = StateAborted
	p.setState(StateAborted)

	slog.Error("Pipeline run aborted", "errors", report.Errors, "last_error", lastErr)

	ctx, cancel := context.WithTimeout(ctx, p.opts.DeliveryTimeout)
	defer cancel()

	message := fmt.Sprintf("Run aborted after %d delivery errors. Last error: %v", report.Errors, lastErr)
	if err := p.notifier.DeliverToAdmin(ctx, message); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Failed to alert admin", "error", err)
	}
}
