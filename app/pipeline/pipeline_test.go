package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type mockRegistry struct {
	feeds []database.Feed
	err   error
}

var _ Registry = (*mockRegistry)(nil)

func (m *mockRegistry) ListFeeds(context.Context) ([]database.Feed, error) {
	return m.feeds, m.err
}

type mockLedger struct {
	mu        sync.Mutex
	records   map[string]time.Time
	existsErr error
	recordErr error
}

var _ Ledger = (*mockLedger)(nil)

func newMockLedger() *mockLedger {
	return &mockLedger{records: map[string]time.Time{}}
}

func (m *mockLedger) Exists(_ context.Context, checksum string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.records[checksum]
	return ok, nil
}

func (m *mockLedger) Record(_ context.Context, checksum string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records[checksum] = publishedAt
	return nil
}

func (m *mockLedger) has(link string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[feed.Identity(link)]
	return ok
}

type mockFetcher struct {
	docs map[string][]feed.RawEntry
	errs map[string]error
}

var _ Fetcher = (*mockFetcher)(nil)

func (m *mockFetcher) Fetch(_ context.Context, url string, _ time.Duration) (*feed.Document, error) {
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	entries, ok := m.docs[url]
	if !ok {
		return nil, &feed.FetchError{URL: url, StatusCode: 404, Err: errors.New("404 Not Found")}
	}
	for i := range entries {
		entries[i].Source = url
	}
	return &feed.Document{URL: url, Entries: entries}, nil
}

type mockNotifier struct {
	mu        sync.Mutex
	delivered []feed.Article
	alerts    []string
	failWith  error
}

var _ Notifier = (*mockNotifier)(nil)

func (m *mockNotifier) Deliver(_ context.Context, article feed.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.delivered = append(m.delivered, article)
	return nil
}

func (m *mockNotifier) DeliverToAdmin(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, message)
	return nil
}

type upperRewriter struct{}

func (upperRewriter) Rewrite(_ context.Context, text, language string) string {
	return "[" + language + "] " + text
}

type panickingNormalizer struct {
	inner   *feed.Normalizer
	panicOn string
}

func (n panickingNormalizer) Normalize(entry feed.RawEntry) (feed.Article, error) {
	if entry.Link == n.panicOn {
		panic("boom")
	}
	return n.inner.Normalize(entry)
}

func entry(link string, published time.Time) feed.RawEntry {
	body := "A body long enough to be delivered for " + link
	return feed.RawEntry{
		Title:       "Title " + link,
		Link:        link,
		Published:   published.Format(time.RFC3339),
		Description: &body,
	}
}

func defaultOptions() Options {
	return Options{
		MaxArticles:  10,
		MaxAge:       30 * 24 * time.Hour,
		FetchTimeout: time.Second,
		FetchWorkers: 2,
		Language:     "italiano",
	}
}

type fixture struct {
	registry *mockRegistry
	ledger   *mockLedger
	fetcher  *mockFetcher
	notifier *mockNotifier
}

func newFixture(entries ...feed.RawEntry) *fixture {
	return &fixture{
		registry: &mockRegistry{feeds: []database.Feed{{ID: 1, URL: "https://a.example/feed"}}},
		ledger:   newMockLedger(),
		fetcher:  &mockFetcher{docs: map[string][]feed.RawEntry{"https://a.example/feed": entries}},
		notifier: &mockNotifier{},
	}
}

func (f *fixture) pipeline(opts Options) *Pipeline {
	p := New(f.registry, f.ledger, f.fetcher, feed.NewNormalizer(), f.notifier, nil, opts)
	p.now = func() time.Time { return testNow }
	return p
}

func TestRunDeliversFreshAndSkipsOld(t *testing.T) {
	f := newFixture(
		entry("https://a.example/1", testNow.Add(-time.Hour)),
		entry("https://a.example/2", testNow.AddDate(0, 0, -40)),
	)

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Delivered != 1 || report.TooOld != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if len(f.notifier.delivered) != 1 || f.notifier.delivered[0].Link != "https://a.example/1" {
		t.Errorf("Unexpected deliveries: %+v", f.notifier.delivered)
	}
	if !f.ledger.has("https://a.example/1") {
		t.Error("Delivered article should be recorded")
	}
	if f.ledger.has("https://a.example/2") {
		t.Error("Old article must never be recorded")
	}

	// second run with the same fetch result
	f.notifier.delivered = nil
	report, err = f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Delivered != 0 || len(f.notifier.delivered) != 0 {
		t.Errorf("Rerun should deliver nothing, got %+v", report)
	}
	if report.Duplicates != 1 {
		t.Errorf("Expected one duplicate, got %d", report.Duplicates)
	}
}

func TestRunSkipsLedgerHits(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	f.ledger.records[feed.Identity("https://a.example/1")] = testNow.Add(-time.Hour)

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Delivered != 0 || len(f.notifier.delivered) != 0 {
		t.Errorf("Ledger hit must not be delivered: %+v", report)
	}
}

func TestRunAgeBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		deliver bool
	}{
		{"29 days", 29 * 24 * time.Hour, true},
		{"exactly 30 days", 30 * 24 * time.Hour, true},
		{"31 days", 31 * 24 * time.Hour, false},
		{"one hour in the future", -time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := "https://a.example/age"
			f := newFixture(entry(link, testNow.Add(-tt.age)))

			report, err := f.pipeline(defaultOptions()).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			delivered := len(f.notifier.delivered) == 1
			if delivered != tt.deliver {
				t.Errorf("delivered = %v, want %v (report %+v)", delivered, tt.deliver, report)
			}
			if f.ledger.has(link) != tt.deliver {
				t.Errorf("recorded = %v, want %v", f.ledger.has(link), tt.deliver)
			}
			if tt.age < 0 && report.Future != 1 {
				t.Errorf("Expected future counter, got %+v", report)
			}
		})
	}
}

func TestRunErrorBudget(t *testing.T) {
	tests := []struct {
		name      string
		articles  int
		wantState State
		wantAlert bool
	}{
		{"three errors keep going", 3, StateIdle, false},
		{"four errors abort", 4, StateAborted, true},
		{"abort stops remaining deliveries", 6, StateAborted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []feed.RawEntry
			for i := 0; i < tt.articles; i++ {
				entries = append(entries, entry(fmt.Sprintf("https://a.example/%d", i), testNow.Add(-time.Duration(i+1)*time.Hour)))
			}

			f := newFixture(entries...)
			f.notifier.failWith = errors.New("telegram unavailable")

			report, err := f.pipeline(defaultOptions()).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if report.State != tt.wantState {
				t.Errorf("Expected state %s, got %s", tt.wantState, report.State)
			}
			if got := len(f.notifier.alerts) == 1; got != tt.wantAlert {
				t.Errorf("admin alert = %v, want %v (%v)", got, tt.wantAlert, f.notifier.alerts)
			}
			wantErrors := min(tt.articles, DefaultErrorBudget+1)
			if report.Errors != wantErrors {
				t.Errorf("Expected %d errors, got %d", wantErrors, report.Errors)
			}
			if report.LastError == "" {
				t.Error("Expected last error to be reported")
			}
			if len(f.ledger.records) != 0 {
				t.Error("Failed deliveries must not be recorded")
			}
		})
	}
}

func TestRunRespectsCapAndOrder(t *testing.T) {
	f := newFixture(
		entry("https://a.example/old", testNow.Add(-5*time.Hour)),
		entry("https://a.example/newest", testNow.Add(-1*time.Hour)),
		entry("https://a.example/middle", testNow.Add(-3*time.Hour)),
	)

	opts := defaultOptions()
	opts.MaxArticles = 2

	report, err := f.pipeline(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Delivered != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", report.Delivered)
	}
	if f.notifier.delivered[0].Link != "https://a.example/newest" || f.notifier.delivered[1].Link != "https://a.example/middle" {
		t.Errorf("Expected newest first, got %s then %s", f.notifier.delivered[0].Link, f.notifier.delivered[1].Link)
	}
	if f.ledger.has("https://a.example/old") {
		t.Error("Article past the cap must not be recorded")
	}
}

func TestRunToleratesFetchFailures(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	f.registry.feeds = append(f.registry.feeds,
		database.Feed{ID: 2, URL: "https://down.example/feed"},
		database.Feed{ID: 3, URL: "https://broken.example/feed"},
	)
	f.fetcher.errs = map[string]error{
		"https://broken.example/feed": &feed.ParseError{URL: "https://broken.example/feed", Err: errors.New("unexpected EOF")},
	}

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Sources != 3 || report.Fetched != 1 || report.FailedSources != 2 {
		t.Errorf("Unexpected fetch counters: %+v", report)
	}
	if report.Delivered != 1 {
		t.Errorf("Expected healthy source to be delivered, got %+v", report)
	}
}

func TestRunRecoversNormalizerPanic(t *testing.T) {
	f := newFixture(
		entry("https://a.example/panic", testNow.Add(-time.Hour)),
		entry("https://a.example/ok", testNow.Add(-2*time.Hour)),
	)

	p := New(f.registry, f.ledger, f.fetcher, panickingNormalizer{inner: feed.NewNormalizer(), panicOn: "https://a.example/panic"}, f.notifier, nil, defaultOptions())
	p.now = func() time.Time { return testNow }

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Rejected != 1 || report.Delivered != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestRunCountsRejectedEntries(t *testing.T) {
	short := "tiny"
	f := newFixture(
		feed.RawEntry{Link: "https://a.example/short", Published: testNow.Format(time.RFC3339), Description: &short},
		feed.RawEntry{Link: "https://a.example/nobody", Published: testNow.Format(time.RFC3339)},
		entry("https://a.example/ok", testNow.Add(-time.Hour)),
	)

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Entries != 3 || report.Rejected != 2 || report.Delivered != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestRunEmptyRegistry(t *testing.T) {
	f := newFixture()
	f.registry.feeds = nil

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Empty registry should not be an error, got %v", err)
	}
	if report.State != StateIdle || report.Sources != 0 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestRunRegistryError(t *testing.T) {
	f := newFixture()
	f.registry.err = &database.StorageError{Op: "list feeds", Err: errors.New("database is locked")}

	_, err := f.pipeline(defaultOptions()).Run(context.Background())

	var storageErr *database.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("Expected StorageError, got %v", err)
	}
}

func TestRunDryRunDoesNotRecord(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))

	opts := defaultOptions()
	opts.DryRun = true

	report, err := f.pipeline(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Delivered != 1 {
		t.Errorf("Dry run should count the rendered message, got %+v", report)
	}
	if f.ledger.has("https://a.example/1") {
		t.Error("Dry run must not write the ledger")
	}
}

func TestRunLedgerFailures(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	f.ledger.recordErr = errors.New("disk full")

	report, err := f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Delivered != 1 || report.Errors != 0 {
		t.Errorf("Record failure should not undo the delivery: %+v", report)
	}

	f = newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	f.ledger.existsErr = errors.New("database is locked")

	report, err = f.pipeline(defaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Delivered != 0 || len(f.notifier.delivered) != 0 {
		t.Errorf("Ledger lookup failure should skip the article: %+v", report)
	}
}

func TestRunRewritesSummaryOnly(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))

	p := New(f.registry, f.ledger, f.fetcher, feed.NewNormalizer(), f.notifier, upperRewriter{}, defaultOptions())
	p.now = func() time.Time { return testNow }

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.notifier.delivered[0]
	if got.Summary != "[italiano] A body long enough to be delivered for https://a.example/1" {
		t.Errorf("Unexpected summary: %q", got.Summary)
	}
	if got.Title != "Title https://a.example/1" {
		t.Errorf("Title should not be rewritten: %q", got.Title)
	}
	if got.Identity != feed.Identity("https://a.example/1") {
		t.Error("Rewriting must not change the identity")
	}
}

type stalledNotifier struct {
	mockNotifier
}

var _ Notifier = (*stalledNotifier)(nil)

func (m *stalledNotifier) Deliver(ctx context.Context, _ feed.Article) error {
	<-ctx.Done()
	return ctx.Err()
}

type stalledRewriter struct{}

func (stalledRewriter) Rewrite(ctx context.Context, text, _ string) string {
	<-ctx.Done()
	return text
}

func TestRunBoundsStalledDelivery(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	notifier := &stalledNotifier{}

	opts := defaultOptions()
	opts.DeliveryTimeout = 50 * time.Millisecond

	p := New(f.registry, f.ledger, f.fetcher, feed.NewNormalizer(), notifier, stalledRewriter{}, opts)
	p.now = func() time.Time { return testNow }

	done := make(chan Report, 1)
	go func() {
		report, _ := p.Run(context.Background())
		done <- report
	}()

	select {
	case report := <-done:
		if report.Errors != 1 || report.Delivered != 0 {
			t.Errorf("Expected one timed out delivery, got %+v", report)
		}
		if !strings.Contains(report.LastError, context.DeadlineExceeded.Error()) {
			t.Errorf("Expected deadline error, got %q", report.LastError)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return while the notifier was stalled")
	}

	if f.ledger.has("https://a.example/1") {
		t.Error("Timed out delivery must not be recorded")
	}
}

func TestLastReport(t *testing.T) {
	f := newFixture(entry("https://a.example/1", testNow.Add(-time.Hour)))
	p := f.pipeline(defaultOptions())

	if p.LastReport() != nil {
		t.Error("Expected no report before the first run")
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	report := p.LastReport()
	if report == nil || report.Delivered != 1 {
		t.Errorf("Unexpected last report: %+v", report)
	}
	if p.State() != StateIdle {
		t.Errorf("Expected idle state after run, got %s", p.State())
	}
}
