package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tldrnews/fetcher/data"
)

func newTestRunner(repo repository) *fetchRunner {
	return newFetchRunner(repo, testFetcherConfig(), testLogger())
}

func TestRunCycleStoresArticles(t *testing.T) {
	ctx := context.Background()
	server := rssServer(t, minimalRSS)

	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, server.URL, data.SourceTypeFeed)

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.sourcesProcessed)
	assert.Equal(t, 0, stats.sourcesFailed)
	assert.Equal(t, 2, stats.entriesFetched)
	assert.Equal(t, 2, stats.stored)
	assert.Equal(t, 0, stats.duplicate)

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.True(t, source.LastFetchedAt.Valid)
	assert.Equal(t, int32(0), source.FetchErrorCount)

	// second cycle re-fetches the same entries and stores nothing new
	stats, err = newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.stored)
	assert.Equal(t, 2, stats.duplicate)
}

func TestRunCycleNoActiveSources(t *testing.T) {
	stats, err := newTestRunner(newMemoryRepository()).runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycleStats{}, stats)
}

func TestRunCycleIsolatesFailingSource(t *testing.T) {
	ctx := context.Background()
	good := rssServer(t, minimalRSS)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}))
	defer bad.Close()

	repo := newMemoryRepository()
	badID := createTestSource(t, repo, bad.URL, data.SourceTypeFeed)
	goodID := createTestSource(t, repo, good.URL, data.SourceTypeFeed)

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.sourcesProcessed)
	assert.Equal(t, 1, stats.sourcesFailed)
	assert.Equal(t, 2, stats.stored, "the good source still stores")

	badSource, err := repo.getSource(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), badSource.FetchErrorCount)
	require.True(t, badSource.LastErrorMessage.Valid)
	assert.Contains(t, badSource.LastErrorMessage.String, "404")

	goodSource, err := repo.getSource(ctx, goodID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), goodSource.FetchErrorCount)
}

func TestRunCycleCrossSourceDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	// a prior run of another source already stored the canonical URL
	otherID := createTestSource(t, repo, "https://other.example.com/feed", data.SourceTypeFeed)
	_, err := repo.createArticle(ctx, &data.Article{
		SourceID: otherID,
		Title:    "Already Here",
		URL:      "https://x.com/a",
	})
	require.NoError(t, err)

	feedBody := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Dupes</title>
    <item>
      <title>Tracked Variant</title>
      <link>https://x.com/a?utm_source=x</link>
    </item>
  </channel>
</rss>`
	server := rssServer(t, feedBody)
	createTestSource(t, repo, server.URL, data.SourceTypeFeed)

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.stored)
	assert.Equal(t, 1, stats.duplicate)
	assert.Len(t, repo.articlesByID, 1)
}

func TestRunCycleLinklessFeedStillSucceeds(t *testing.T) {
	ctx := context.Background()
	server := rssServer(t, `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>News</title>
    <item><title>No Link</title></item>
  </channel>
</rss>`)

	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, server.URL, data.SourceTypeFeed)

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.sourcesFailed)
	assert.Equal(t, 0, stats.entriesFetched)
	assert.Equal(t, 0, stats.stored+stats.duplicate+stats.errors)

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.True(t, source.LastFetchedAt.Valid, "success still recorded")
	assert.Equal(t, int32(0), source.FetchErrorCount)
}

func TestRunCycleSiteSourceIsStubbed(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, "https://example.com/site", data.SourceTypeSite)

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.sourcesProcessed)
	assert.Equal(t, 0, stats.sourcesFailed)
	assert.Equal(t, 0, stats.entriesFetched)

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.True(t, source.LastFetchedAt.Valid)
}

func TestRunCycleUnsupportedSourceType(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, "https://example.com/wat", "carrier-pigeon")

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.sourcesFailed)

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.FetchErrorCount)
	require.True(t, source.LastErrorMessage.Valid)
	assert.Contains(t, source.LastErrorMessage.String, "unsupported source type")
}

func TestRunCycleWritesFetchLogs(t *testing.T) {
	ctx := context.Background()
	good := rssServer(t, minimalRSS)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}))
	defer bad.Close()

	repo := newMemoryRepository()
	createTestSource(t, repo, good.URL, data.SourceTypeFeed)
	createTestSource(t, repo, bad.URL, data.SourceTypeFeed)

	_, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)

	require.Len(t, repo.fetchLogs, 2)

	byStatus := make(map[string]data.FetchLog)
	for _, fl := range repo.fetchLogs {
		byStatus[fl.Status] = fl
	}

	success, ok := byStatus[data.FetchStatusSuccess]
	require.True(t, ok)
	assert.Equal(t, int32(2), success.ArticlesFound)
	assert.Equal(t, int32(2), success.ArticlesNew)
	assert.True(t, success.CompletedAt.Valid)

	failure, ok := byStatus[data.FetchStatusError]
	require.True(t, ok)
	require.True(t, failure.ErrorMessage.Valid)
	assert.Contains(t, failure.ErrorMessage.String, "404")
}

func TestRunSingle(t *testing.T) {
	ctx := context.Background()
	server := rssServer(t, minimalRSS)

	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, server.URL, data.SourceTypeFeed)

	stats, err := newTestRunner(repo).runSingle(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.sourcesProcessed)
	assert.Equal(t, 2, stats.stored)
}

func TestRunSingleMissingSourceIsNoOp(t *testing.T) {
	stats, err := newTestRunner(newMemoryRepository()).runSingle(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, cycleStats{}, stats)
}

func TestRunSingleInactiveSourceIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	id, err := repo.createSource(ctx, &data.Source{
		URL:      "https://example.com/feed",
		Name:     "sleeping",
		Type:     data.SourceTypeFeed,
		IsActive: false,
	})
	require.NoError(t, err)

	stats, err := newTestRunner(repo).runSingle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cycleStats{}, stats)
}

func TestRunCycleManySources(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	var servers []*httptest.Server
	for i := 0; i < 8; i++ {
		body := strings.Replace(minimalRSS, "http://example.org", fmt.Sprintf("http://example-%d.org", i), -1)
		server := rssServer(t, body)
		servers = append(servers, server)
		createTestSource(t, repo, server.URL, data.SourceTypeFeed)
	}

	stats, err := newTestRunner(repo).runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(servers), stats.sourcesProcessed)
	assert.Equal(t, 0, stats.sourcesFailed)
	assert.Equal(t, 16, stats.stored)
}
