package feed

import (
	"fmt"
)

// FetchError reports a network, timeout or HTTP status failure for one source.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a body that could not be parsed as RSS or Atom.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type RejectReason string

const (
	ReasonUnsupportedFormat RejectReason = "unsupported format"
	ReasonEmptyContent      RejectReason = "empty content"
	ReasonInvalidDate       RejectReason = "invalid date"
)

// RejectedError is returned by the normalizer for entries that are dropped.
type RejectedError struct {
	Reason RejectReason
	Link   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("entry %q rejected: %s", e.Link, e.Reason)
}

func reject(reason RejectReason, link string) error {
	return &RejectedError{Reason: reason, Link: link}
}
