package main

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tldrnews/fetcher/data"
)

func TestCreateSourceRejectsDuplicateURL(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	_, err := repo.createSource(ctx, &data.Source{URL: "https://example.com/feed", Name: "a", Type: data.SourceTypeFeed, IsActive: true})
	require.NoError(t, err)

	_, err = repo.createSource(ctx, &data.Source{URL: "https://example.com/feed", Name: "b", Type: data.SourceTypeFeed, IsActive: true})
	assert.ErrorIs(t, err, data.ErrDuplicateURL)

	exists, err := repo.sourceExistsByURL(ctx, "https://example.com/feed")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetActiveSourcesFiltersInactive(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	activeID := createTestSource(t, repo, "https://a.example.com/feed", data.SourceTypeFeed)
	_, err := repo.createSource(ctx, &data.Source{URL: "https://b.example.com/feed", Name: "b", Type: data.SourceTypeFeed, IsActive: false})
	require.NoError(t, err)

	active, err := repo.getActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, activeID, active[0].ID)

	all, err := repo.getSources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetSourceNotFound(t *testing.T) {
	_, err := newMemoryRepository().getSource(context.Background(), 42)
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestGetRecentArticlesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	sourceID := createTestSource(t, repo, "https://a.example.com/feed", data.SourceTypeFeed)
	otherID := createTestSource(t, repo, "https://b.example.com/feed", data.SourceTypeFeed)

	for _, title := range []string{"first", "second", "third"} {
		_, err := repo.createArticle(ctx, &data.Article{
			SourceID: sourceID,
			Title:    title,
			URL:      "https://a.example.com/" + title,
		})
		require.NoError(t, err)

		// interleave another source's articles
		_, err = repo.createArticle(ctx, &data.Article{
			SourceID: otherID,
			Title:    title,
			URL:      "https://b.example.com/" + title,
		})
		require.NoError(t, err)
	}

	articles, err := repo.getRecentArticles(ctx, sourceID, 2)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "third", articles[0].Title)
	assert.Equal(t, "second", articles[1].Title)
	for _, a := range articles {
		assert.Equal(t, sourceID, a.SourceID)
	}
}

func TestDeleteArticlesBefore(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	sourceID := createTestSource(t, repo, "https://a.example.com/feed", data.SourceTypeFeed)

	oldID, err := repo.createArticle(ctx, &data.Article{SourceID: sourceID, Title: "old", URL: "https://a.example.com/old"})
	require.NoError(t, err)
	_, err = repo.createArticle(ctx, &data.Article{SourceID: sourceID, Title: "new", URL: "https://a.example.com/new"})
	require.NoError(t, err)

	// age the first article past the cutoff
	repo.articlesByID[oldID].CreatedAt = pgtype.Timestamptz{Time: time.Now().Add(-48 * time.Hour), Valid: true}

	n, err := repo.deleteArticlesBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := repo.articleExistsByURL(ctx, "https://a.example.com/old")
	require.NoError(t, err)
	assert.False(t, exists, "deletion must release the URL")

	exists, err = repo.articleExistsByURL(ctx, "https://a.example.com/new")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateSourceFetchFailureUnknownSource(t *testing.T) {
	err := newMemoryRepository().updateSourceFetchFailure(context.Background(), 7, "boom", time.Now(), 10)
	assert.ErrorIs(t, err, data.ErrNotFound)
}
