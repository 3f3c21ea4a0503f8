package pipeline

import (
	"fmt"
	"time"
)

type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateFiltering   State = "filtering"
	StateDelivering  State = "delivering"
	StateAborted     State = "aborted"
)

// DefaultErrorBudget is the number of delivery errors tolerated in one run;
// the next one aborts it.
const DefaultErrorBudget = 3

// DefaultDeliveryTimeout bounds the rewrite and send of a single article.
const DefaultDeliveryTimeout = 2 * time.Minute

type Options struct {
	MaxArticles  int
	MaxAge       time.Duration
	FetchTimeout time.Duration
	FetchWorkers int
	ErrorBudget  int
	Language     string
	DryRun       bool

	DeliveryTimeout time.Duration
}

// Report summarizes one run.
type Report struct {
	State         State         `json:"state"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Sources       int           `json:"sources"`
	Fetched       int           `json:"fetched"`
	FailedSources int           `json:"failed_sources"`
	Entries       int           `json:"entries"`
	Rejected      int           `json:"rejected"`
	Duplicates    int           `json:"duplicates"`
	TooOld        int           `json:"too_old"`
	Future        int           `json:"future"`
	Delivered     int           `json:"delivered"`
	Errors        int           `json:"errors"`
	LastError     string        `json:"last_error,omitempty"`
}

// DeliveryError wraps a notifier failure for one article.
type DeliveryError struct {
	Link string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver %s: %v", e.Link, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
