package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mmcdole/gofeed"
	log "gopkg.in/inconshreveable/log15.v2"
)

const untitledPlaceholder = "Untitled"

const feedAcceptHeader = "application/rss+xml, application/xml, text/xml"

// FetchError is a transport-level failure: the request could not be
// completed or the server answered with a non-success status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: bad HTTP response: %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmptyFeedError means the document decoded but contained no entries.
type EmptyFeedError struct {
	URL string
}

func (e *EmptyFeedError) Error() string {
	return fmt.Sprintf("no entries found in feed: %s", e.URL)
}

// rawEntry is the parser's per-item output before normalization and
// validation. Absent optional fields are empty strings or an invalid
// timestamp.
type rawEntry struct {
	title       string
	url         string
	author      string
	publishedAt pgtype.Timestamptz
	summary     string
	content     string
}

type feedFetcher struct {
	client     *http.Client
	parser     *gofeed.Parser
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	logger     log.Logger
}

func newFeedFetcher(config *fetcherConfig, logger log.Logger) *feedFetcher {
	return &feedFetcher{
		client:     &http.Client{Timeout: config.requestTimeout},
		parser:     gofeed.NewParser(),
		userAgent:  config.userAgent,
		maxRetries: config.maxRetries,
		retryDelay: config.requestDelay,
		logger:     logger,
	}
}

// fetchEntries downloads and parses the source's feed, returning one
// rawEntry per usable item. Items without a resolvable URL are dropped.
func (f *feedFetcher) fetchEntries(ctx context.Context, sourceID int32, feedURL string) ([]rawEntry, error) {
	feed, err := f.fetchFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	entries := make([]rawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry := f.parseEntry(item, feedURL)
		if entry.url == "" {
			f.logger.Warn("skipping entry without URL", "sourceID", sourceID, "title", entry.title)
			continue
		}
		entries = append(entries, entry)
	}

	f.logger.Info("extracted entries from feed", "sourceID", sourceID, "n", len(entries))
	return entries, nil
}

// fetchFeed performs the HTTP request with bounded retry and decodes the
// body. Transport errors and 5xx responses are retried with exponential
// backoff; anything else fails immediately.
func (f *feedFetcher) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	var body []byte
	var lastErr error

	delay := f.retryDelay
	attempts := f.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			f.logger.Warn("retrying feed fetch", "url", feedURL, "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, &FetchError{URL: feedURL, Err: err}
			}
			delay *= 2
		}

		var retryable bool
		body, retryable, lastErr = f.doRequest(ctx, feedURL)
		if lastErr == nil {
			break
		}
		if !retryable {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to parse feed %s: %w", feedURL, err)
	}

	if len(feed.Items) == 0 {
		return nil, &EmptyFeedError{URL: feedURL}
	}

	return feed, nil
}

func (f *feedFetcher) doRequest(ctx context.Context, feedURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, false, &FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", feedAcceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, &FetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode >= 500, &FetchError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &FetchError{URL: feedURL, Err: err}
	}

	return body, false, nil
}

// parseEntry extracts one item's fields, applying the fallbacks for feeds
// that omit or mangle them.
func (f *feedFetcher) parseEntry(item *gofeed.Item, feedURL string) rawEntry {
	var entry rawEntry

	entry.title = strings.TrimSpace(item.Title)
	if entry.title == "" {
		entry.title = untitledPlaceholder
	}

	entry.url = strings.TrimSpace(item.Link)
	if entry.url != "" {
		entry.url = resolveEntryURL(feedURL, entry.url)
	}

	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		entry.author = strings.TrimSpace(item.Author.Name)
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		entry.author = strings.TrimSpace(item.Authors[0].Name)
	}

	if item.PublishedParsed != nil {
		entry.publishedAt = pgtype.Timestamptz{Time: item.PublishedParsed.UTC(), Valid: true}
	} else if item.Published != "" {
		entry.publishedAt, _ = parsePublicationTime(item.Published)
	}

	entry.summary = strings.TrimSpace(item.Description)

	entry.content = strings.TrimSpace(item.Content)
	if entry.content == "" {
		entry.content = entry.summary
	}

	return entry
}

// resolveEntryURL makes a relative item link absolute against the feed URL.
// Links that cannot be parsed pass through untouched.
func resolveEntryURL(feedURL, link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if u.Host != "" {
		return link
	}

	base, err := url.Parse(feedURL)
	if err != nil {
		return link
	}

	return base.ResolveReference(u).String()
}

// Try multiple time formats one after another until one works or all fail.
// Formats without a zone parse as UTC.
func parsePublicationTime(value string) (pgtype.Timestamptz, error) {
	formats := []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05Z",
		time.RFC822,
		"02 Jan 2006 15:04 MST",           // RFC822 with 4 digit year
		"02 Jan 2006 15:04:05 MST",        // RFC822 with 4 digit year and seconds
		"Mon, _2 Jan 2006 15:04:05 MST",   // RFC1123 with 1-2 digit days
		"Mon, _2 Jan 2006 15:04:05 -0700", // RFC1123 with numeric time zone and with 1-2 digit days
		"Mon, _2 Jan 2006",
		"2006-01-02",
	}
	for _, format := range formats {
		t, err := time.Parse(format, value)
		if err == nil {
			return pgtype.Timestamptz{Time: t.UTC(), Valid: true}, nil
		}
	}

	return pgtype.Timestamptz{}, errors.New("unable to parse time")
}

// validateFeedURL reports whether url resolves to a parseable feed with at
// least one entry. Operator tooling only; the runner never calls it.
func (f *feedFetcher) validateFeedURL(ctx context.Context, url string) bool {
	feed, err := f.fetchFeed(ctx, url)
	return err == nil && len(feed.Items) > 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
