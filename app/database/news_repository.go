package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// NewsRepository is the ledger of delivered article identities
type NewsRepository struct {
	db  *DB
	now func() time.Time
}

// NewNewsRepository creates a new news repository
func NewNewsRepository(db *DB) *NewsRepository {
	return &NewsRepository{db: db, now: time.Now}
}

// Exists reports whether the checksum has already been delivered
func (r *NewsRepository) Exists(ctx context.Context, checksum string) (bool, error) {
	var one int
	err := sq.Select("1").
		From("news").
		Where(sq.Eq{"checksum": checksum}).
		Limit(1).
		RunWith(r.db.DB).
		QueryRowContext(ctx).
		Scan(&one)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError("check news", err)
	}

	return true, nil
}

// Record stores a delivered checksum. Recording the same checksum twice is a no-op.
func (r *NewsRepository) Record(ctx context.Context, checksum string, publishedAt time.Time) error {
	_, err := sq.Insert("news").
		Options("OR IGNORE").
		Columns("date", "checksum").
		Values(publishedAt.UTC().Unix(), checksum).
		RunWith(r.db.DB).
		ExecContext(ctx)
	if err != nil {
		return storageError("record news", err)
	}
	return nil
}

// PruneOlderThan deletes records published more than days ago and returns the
// number removed. On failure it returns -1 alongside the error.
func (r *NewsRepository) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days).UTC().Unix()

	result, err := sq.Delete("news").
		Where(sq.Lt{"date": cutoff}).
		RunWith(r.db.DB).
		ExecContext(ctx)
	if err != nil {
		return -1, storageError("prune news", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return -1, storageError("prune news", err)
	}

	return affected, nil
}

// Count returns the number of records in the ledger
func (r *NewsRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := sq.Select("COUNT(*)").From("news").RunWith(r.db.DB).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return 0, storageError("count news", err)
	}
	return count, nil
}

// Recent returns the most recently published records, newest first
func (r *NewsRepository) Recent(ctx context.Context, limit int) ([]NewsRecord, error) {
	rows, err := sq.Select("date", "checksum").
		From("news").
		OrderBy("date DESC").
		Limit(uint64(limit)).
		RunWith(r.db.DB).
		QueryContext(ctx)
	if err != nil {
		return nil, storageError("list news", err)
	}
	defer rows.Close()

	var records []NewsRecord
	for rows.Next() {
		var unix int64
		var record NewsRecord
		if err := rows.Scan(&unix, &record.Checksum); err != nil {
			return nil, storageError("list news", err)
		}
		record.PublishedAt = time.Unix(unix, 0).UTC()
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("list news", err)
	}

	return records, nil
}
