package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxFeedSize = 10 << 20

var acceptedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/xml",
	"text/xml",
	"application/rdf+xml",
}

type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
}

func NewFetcher(httpClient *http.Client, parser *Parser, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
	}
}

// Fetch downloads and parses one feed. Transport and status failures are
// reported as *FetchError, unparsable bodies as *ParseError.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*Document, error) {
	data, err := f.download(ctx, url, timeout)
	if err != nil {
		return nil, err
	}

	doc, err := f.parser.Run(data)
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}
	doc.URL = url

	for i := range doc.Entries {
		doc.Entries[i].Source = url
	}

	slog.Debug("Feed fetched", "url", url, "type", doc.FeedType, "entries", len(doc.Entries))

	return doc, nil
}

func (f *Fetcher) download(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", strings.Join(acceptedContentTypes, ", ")+", */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "" && !isFeedContentType(contentType) {
		slog.Warn("Unexpected content type for feed", "url", url, "content_type", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New("empty response body")}
	}

	return data, nil
}

func isFeedContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, accepted := range acceptedContentTypes {
		if strings.Contains(contentType, accepted) {
			return true
		}
	}
	return false
}
