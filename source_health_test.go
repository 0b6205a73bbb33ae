package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailureDisablesAtThreshold(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, "https://example.com/feed", "feed")

	health := newSourceHealth(repo, 3, testLogger())

	for i := 0; i < 2; i++ {
		health.recordFailure(ctx, sourceID, "connection refused")
	}

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.FetchErrorCount)
	assert.True(t, source.IsActive, "below threshold the source stays active")
	require.True(t, source.LastErrorMessage.Valid)
	assert.Equal(t, "connection refused", source.LastErrorMessage.String)
	assert.True(t, source.LastErrorAt.Valid)

	health.recordFailure(ctx, sourceID, "connection refused")

	source, err = repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.FetchErrorCount)
	assert.False(t, source.IsActive, "threshold reached forces is_active false")
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, "https://example.com/feed", "feed")

	health := newSourceHealth(repo, 3, testLogger())

	health.recordFailure(ctx, sourceID, "timeout")
	health.recordFailure(ctx, sourceID, "timeout")
	health.recordSuccess(ctx, sourceID)

	source, err := repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), source.FetchErrorCount)
	assert.False(t, source.LastErrorMessage.Valid)
	assert.False(t, source.LastErrorAt.Valid)
	assert.True(t, source.LastFetchedAt.Valid)
	assert.True(t, source.IsActive)

	// a single failure after the reset does not disable
	health.recordFailure(ctx, sourceID, "timeout")
	source, err = repo.getSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.FetchErrorCount)
	assert.True(t, source.IsActive)
}

func TestRecordOutcomesSwallowPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	sourceID := createTestSource(t, repo, "https://example.com/feed", "feed")
	repo.updateSourceErr = errors.New("database unreachable")

	health := newSourceHealth(repo, 3, testLogger())

	// must not panic or surface the error
	health.recordSuccess(ctx, sourceID)
	health.recordFailure(ctx, sourceID, "original failure")
}
