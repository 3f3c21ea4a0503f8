package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// FeedRepository handles database operations for feed sources
type FeedRepository struct {
	db *DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{db: db}
}

// ListFeeds returns every registered feed ordered by id
func (r *FeedRepository) ListFeeds(ctx context.Context) ([]Feed, error) {
	return listFeeds(ctx, r.db.DB)
}

// GetFeed returns the feed with the given id, or nil when it does not exist
func (r *FeedRepository) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	var feed Feed
	err := sq.Select("rowid", "url").
		From("feeds").
		Where(sq.Eq{"rowid": id}).
		RunWith(r.db.DB).
		QueryRowContext(ctx).
		Scan(&feed.ID, &feed.URL)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get feed", err)
	}

	return &feed, nil
}

// GetFeedCount returns the total number of feeds
func (r *FeedRepository) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	err := sq.Select("COUNT(*)").From("feeds").RunWith(r.db.DB).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return 0, storageError("count feeds", err)
	}
	return count, nil
}

// AddFeed registers a new feed URL. URLs without an http(s) scheme are rejected
// with ErrInvalidFeedURL, URLs matching an existing entry after cleaning with
// ErrDuplicateFeed.
func (r *FeedRepository) AddFeed(ctx context.Context, feedURL string) (*Feed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if !HasFeedScheme(feedURL) || CleanFeedURL(feedURL) == "" {
		return nil, ErrInvalidFeedURL
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("add feed", err)
	}
	defer tx.Rollback()

	existing, err := listFeeds(ctx, tx)
	if err != nil {
		return nil, err
	}

	for _, feed := range existing {
		if IsNearDuplicate(feed.URL, feedURL) {
			return nil, fmt.Errorf("%w: matches #%d %s", ErrDuplicateFeed, feed.ID, feed.URL)
		}
	}

	result, err := sq.Insert("feeds").
		Columns("url").
		Values(feedURL).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return nil, storageError("add feed", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, storageError("add feed", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("add feed", err)
	}

	return &Feed{ID: id, URL: feedURL}, nil
}

// RemoveFeed deletes the feed with the given id
func (r *FeedRepository) RemoveFeed(ctx context.Context, id int64) error {
	result, err := sq.Delete("feeds").
		Where(sq.Eq{"rowid": id}).
		RunWith(r.db.DB).
		ExecContext(ctx)
	if err != nil {
		return storageError("remove feed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("remove feed", err)
	}
	if affected == 0 {
		return ErrFeedNotFound
	}

	return nil
}

// SeedFeeds inserts the given URLs when the registry is empty and returns how
// many were stored. A non-empty registry is left untouched.
func (r *FeedRepository) SeedFeeds(ctx context.Context, urls []string) (int, error) {
	count, err := r.GetFeedCount(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("seed feeds", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, feedURL := range urls {
		feedURL = strings.TrimSpace(feedURL)
		if !HasFeedScheme(feedURL) {
			continue
		}

		result, err := sq.Insert("feeds").
			Options("OR IGNORE").
			Columns("url").
			Values(feedURL).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return 0, storageError("seed feeds", err)
		}

		if affected, _ := result.RowsAffected(); affected > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("seed feeds", err)
	}

	return inserted, nil
}

// Cleanup removes malformed URLs and near-duplicates, keeping the oldest entry
// of each duplicate group. It returns the removed feeds.
func (r *FeedRepository) Cleanup(ctx context.Context) ([]Feed, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("cleanup feeds", err)
	}
	defer tx.Rollback()

	feeds, err := listFeeds(ctx, tx)
	if err != nil {
		return nil, err
	}

	var kept, removed []Feed
	for _, feed := range feeds {
		if !HasFeedScheme(feed.URL) || CleanFeedURL(feed.URL) == "" {
			removed = append(removed, feed)
			continue
		}

		duplicate := false
		for _, k := range kept {
			if IsNearDuplicate(k.URL, feed.URL) {
				duplicate = true
				break
			}
		}

		if duplicate {
			removed = append(removed, feed)
		} else {
			kept = append(kept, feed)
		}
	}

	if len(removed) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(removed))
	for _, feed := range removed {
		ids = append(ids, feed.ID)
	}

	if _, err := sq.Delete("feeds").Where(sq.Eq{"rowid": ids}).RunWith(tx).ExecContext(ctx); err != nil {
		return nil, storageError("cleanup feeds", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("cleanup feeds", err)
	}

	return removed, nil
}

func listFeeds(ctx context.Context, runner sq.BaseRunner) ([]Feed, error) {
	rows, err := sq.Select("rowid", "url").
		From("feeds").
		OrderBy("rowid").
		RunWith(runner).
		QueryContext(ctx)
	if err != nil {
		return nil, storageError("list feeds", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var feed Feed
		if err := rows.Scan(&feed.ID, &feed.URL); err != nil {
			return nil, storageError("list feeds", fmt.Errorf("failed to scan feed row: %w", err))
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("list feeds", err)
	}

	return feeds, nil
}

// HasFeedScheme reports whether the URL starts with http:// or https://
func HasFeedScheme(feedURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(feedURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// CleanFeedURL lowercases the URL and strips the scheme, a leading "www." and
// trailing slashes.
func CleanFeedURL(feedURL string) string {
	cleaned := strings.ToLower(strings.TrimSpace(feedURL))
	cleaned = strings.TrimPrefix(cleaned, "https://")
	cleaned = strings.TrimPrefix(cleaned, "http://")
	cleaned = strings.TrimPrefix(cleaned, "www.")
	return strings.TrimRight(cleaned, "/")
}

// IsNearDuplicate reports whether either cleaned URL contains the other.
func IsNearDuplicate(a, b string) bool {
	ca, cb := CleanFeedURL(a), CleanFeedURL(b)
	if ca == "" || cb == "" {
		return ca == cb
	}
	return strings.Contains(ca, cb) || strings.Contains(cb, ca)
}
