package database

import (
	"errors"
	"time"
)

// Feed is a registered feed source. ID is the sqlite rowid and doubles as the
// index shown to operators.
type Feed struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// NewsRecord is one delivered article in the ledger.
type NewsRecord struct {
	PublishedAt time.Time `json:"published_at"`
	Checksum    string    `json:"checksum"`
}

var (
	ErrInvalidFeedURL = errors.New("invalid feed URL format")
	ErrDuplicateFeed  = errors.New("feed URL already registered")
	ErrFeedNotFound   = errors.New("feed not found")
)

// StorageError wraps a failed store operation with its name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error in " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
