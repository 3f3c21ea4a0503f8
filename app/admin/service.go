package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/pipeline"
)

// Service holds the operator actions shared by the Telegram commands and the
// HTTP API.
type Service struct {
	registry      Registry
	ledger        Ledger
	checker       FeedChecker
	finder        FeedFinder
	runner        Runner
	retentionDays int
}

// Status is a snapshot of the relay for health reporting.
type Status struct {
	Feeds      int              `json:"feeds"`
	Ledger     int              `json:"ledger"`
	State      pipeline.State   `json:"state"`
	LastReport *pipeline.Report `json:"last_report,omitempty"`
}

// NewService builds a Service. checker and finder may be nil, in which case
// new feeds are stored without probing them.
func NewService(registry Registry, ledger Ledger, checker FeedChecker, finder FeedFinder, runner Runner, retentionDays int) *Service {
	return &Service{
		registry:      registry,
		ledger:        ledger,
		checker:       checker,
		finder:        finder,
		runner:        runner,
		retentionDays: retentionDays,
	}
}

func (s *Service) ListFeeds(ctx context.Context) ([]database.Feed, error) {
	return s.registry.ListFeeds(ctx)
}

// AddFeed validates and stores a new feed URL. Duplicates are rejected before
// the URL is probed over the network.
func (s *Service) AddFeed(ctx context.Context, feedURL string) (*database.Feed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if !database.HasFeedScheme(feedURL) {
		return nil, database.ErrInvalidFeedURL
	}

	feeds, err := s.registry.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	for _, existing := range feeds {
		if database.IsNearDuplicate(existing.URL, feedURL) {
			return nil, fmt.Errorf("%w: matches #%d %s", database.ErrDuplicateFeed, existing.ID, existing.URL)
		}
	}

	if s.checker != nil && !s.checker.IsWellFormedFeed(ctx, feedURL) {
		return nil, &NotAFeedError{URL: feedURL, Suggestions: s.suggest(ctx, feedURL)}
	}

	added, err := s.registry.AddFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	slog.Info("Feed added", "id", added.ID, "url", added.URL)
	return added, nil
}

func (s *Service) suggest(ctx context.Context, pageURL string) []string {
	if s.finder == nil {
		return nil
	}

	found, err := s.finder.Discover(ctx, pageURL)
	if err != nil {
		slog.Debug("Feed discovery failed", "url", pageURL, "error", err)
		return nil
	}
	return found
}

func (s *Service) RemoveFeed(ctx context.Context, id int64) error {
	if err := s.registry.RemoveFeed(ctx, id); err != nil {
		return err
	}

	slog.Info("Feed removed", "id", id)
	return nil
}

// Prune deletes ledger entries older than days. A non-positive value uses the
// configured retention.
func (s *Service) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = s.retentionDays
	}

	removed, err := s.ledger.PruneOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	slog.Info("Ledger pruned", "days", days, "removed", removed)
	return removed, nil
}

func (s *Service) Cleanup(ctx context.Context) ([]database.Feed, error) {
	removed, err := s.registry.Cleanup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to clean up feeds: %w", err)
	}

	for _, feed := range removed {
		slog.Info("Feed removed by cleanup", "id", feed.ID, "url", feed.URL)
	}
	return removed, nil
}

func (s *Service) Run(ctx context.Context) (pipeline.Report, error) {
	return s.runner.Run(ctx)
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	feeds, err := s.registry.GetFeedCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count feeds: %w", err)
	}

	entries, err := s.ledger.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	return Status{
		Feeds:      feeds,
		Ledger:     entries,
		State:      s.runner.State(),
		LastReport: s.runner.LastReport(),
	}, nil
}
