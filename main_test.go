package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tldrnews/fetcher/data"
)

func TestImportSources(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	createTestSource(t, repo, "https://known.example.com/feed", data.SourceTypeFeed)

	inactive := false
	records := []sourceRecord{
		{Name: "Fresh", URL: "https://fresh.example.com/feed"},
		{Name: "Known", URL: "https://known.example.com/feed", Type: data.SourceTypeFeed},
		{Name: "Scraped", URL: "https://scraped.example.com", Type: data.SourceTypeSite, IsActive: &inactive},
	}

	added, skipped, err := importSources(ctx, repo, records)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, skipped)

	sources, err := repo.getSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 3)

	byURL := make(map[string]data.Source)
	for _, s := range sources {
		byURL[s.URL] = s
	}

	fresh := byURL["https://fresh.example.com/feed"]
	assert.Equal(t, data.SourceTypeFeed, fresh.Type, "type defaults to feed")
	assert.True(t, fresh.IsActive, "active defaults to true")

	scraped := byURL["https://scraped.example.com"]
	assert.Equal(t, data.SourceTypeSite, scraped.Type)
	assert.False(t, scraped.IsActive)
}

func TestImportSourcesRejectsIncompleteRecord(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	_, _, err := importSources(ctx, repo, []sourceRecord{{Name: "No URL"}})
	assert.Error(t, err)

	_, _, err = importSources(ctx, repo, []sourceRecord{{URL: "https://nameless.example.com/feed"}})
	assert.Error(t, err)
}

func TestImportSourcesIsRerunnable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	records := []sourceRecord{
		{Name: "A", URL: "https://a.example.com/feed"},
		{Name: "B", URL: "https://b.example.com/feed"},
	}

	added, skipped, err := importSources(ctx, repo, records)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, skipped)

	added, skipped, err = importSources(ctx, repo, records)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, skipped)
}
