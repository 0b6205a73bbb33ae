package main

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tldrnews/fetcher/data"
	log "gopkg.in/inconshreveable/log15.v2"
)

// Storage bounds shared with the schema.
const (
	maxTitleLength   = 512
	maxAuthorLength  = 255
	maxSummaryLength = 5000
	maxContentLength = 50000
)

const truncationMarker = "..."

// defaultBatchSize bounds how many entries are handled per chunk. Batch
// boundaries carry no meaning for dedup outcomes; each entry commits on its
// own either way.
const defaultBatchSize = 100

// storeStats aggregates per-entry outcomes for one source.
type storeStats struct {
	stored    int
	duplicate int
	errors    int
}

func (s *storeStats) add(other storeStats) {
	s.stored += other.stored
	s.duplicate += other.duplicate
	s.errors += other.errors
}

// validateEntry checks field presence and bounds, first failure wins. It is
// a pure check; truncation happens separately in prepareEntry.
func validateEntry(entry rawEntry) (valid bool, reason string) {
	if strings.TrimSpace(entry.title) == "" {
		return false, "title required"
	}
	if strings.TrimSpace(entry.url) == "" {
		return false, "url required"
	}

	u, err := url.Parse(entry.url)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false, "invalid URL format"
	}

	if utf8.RuneCountInString(entry.title) > maxTitleLength {
		return false, "title too long"
	}
	if utf8.RuneCountInString(entry.content) > maxContentLength {
		return false, "content too long"
	}
	if utf8.RuneCountInString(entry.summary) > maxSummaryLength {
		return false, "summary too long"
	}

	return true, ""
}

// truncateField cuts s to at most max runes, replacing the tail with the
// truncation marker when it does.
func truncateField(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	return string(runes[:max-len(truncationMarker)]) + truncationMarker
}

// prepareEntry produces the storable form of an entry: trimmed fields,
// normalized URL, and oversized fields truncated rather than rejected.
func prepareEntry(entry rawEntry) rawEntry {
	prepared := entry
	prepared.title = truncateField(strings.TrimSpace(entry.title), maxTitleLength)
	prepared.url = normalizeURL(strings.TrimSpace(entry.url))
	prepared.author = truncateField(strings.TrimSpace(entry.author), maxAuthorLength)
	prepared.summary = truncateField(entry.summary, maxSummaryLength)
	prepared.content = truncateField(entry.content, maxContentLength)
	return prepared
}

// articleIngester decides store/skip/error per entry and persists the new
// ones, one commit per entry so one bad entry cannot roll back its siblings.
type articleIngester struct {
	repo      repository
	batchSize int
	logger    log.Logger
}

func newArticleIngester(repo repository, logger log.Logger) *articleIngester {
	return &articleIngester{
		repo:      repo,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// storeEntries runs the dedup decision for every entry of one source and
// returns the aggregate counts. Entry-level failures are recorded and
// skipped, never propagated.
func (ing *articleIngester) storeEntries(ctx context.Context, sourceID int32, entries []rawEntry) storeStats {
	var stats storeStats

	for start := 0; start < len(entries); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(entries) {
			end = len(entries)
		}

		batch := ing.storeBatch(ctx, sourceID, entries[start:end])
		stats.add(batch)
	}

	if len(entries) > 0 {
		ing.logger.Info("stored entries", "sourceID", sourceID,
			"stored", stats.stored, "duplicate", stats.duplicate, "errors", stats.errors)
	}

	return stats
}

func (ing *articleIngester) storeBatch(ctx context.Context, sourceID int32, entries []rawEntry) storeStats {
	var stats storeStats

	for _, entry := range entries {
		prepared := prepareEntry(entry)

		if valid, reason := validateEntry(prepared); !valid {
			ing.logger.Warn("invalid entry", "sourceID", sourceID, "reason", reason, "url", entry.url)
			stats.errors++
			continue
		}

		exists, err := ing.repo.articleExistsByURL(ctx, prepared.url)
		if err != nil {
			ing.logger.Error("article lookup failed", "sourceID", sourceID, "url", prepared.url, "error", err)
			stats.errors++
			continue
		}
		if exists {
			stats.duplicate++
			continue
		}

		_, err = ing.repo.createArticle(ctx, entryToArticle(sourceID, prepared))
		if errors.Is(err, data.ErrDuplicateURL) {
			// lost a race against a concurrent identical insert
			stats.duplicate++
			continue
		}
		if err != nil {
			ing.logger.Error("article insert failed", "sourceID", sourceID, "url", prepared.url, "error", err)
			stats.errors++
			continue
		}

		stats.stored++
	}

	return stats
}

func entryToArticle(sourceID int32, entry rawEntry) *data.Article {
	article := &data.Article{
		SourceID:    sourceID,
		Title:       entry.title,
		URL:         entry.url,
		PublishedAt: entry.publishedAt,
	}

	if entry.author != "" {
		article.Author = pgtype.Text{String: entry.author, Valid: true}
	}
	if entry.summary != "" {
		article.Summary = pgtype.Text{String: entry.summary, Valid: true}
	}
	if entry.content != "" {
		article.Content = pgtype.Text{String: entry.content, Valid: true}
	}

	return article
}
