package main

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tldrnews/fetcher/data"
	log "gopkg.in/inconshreveable/log15.v2"
)

func tstz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func testLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

// testFetcherConfig returns a config tuned for tests: no retry backoff or
// domain delays slowing things down.
func testFetcherConfig() *fetcherConfig {
	config := defaultFetcherConfig()
	config.concurrentLimit = 2
	config.requestTimeout = 5 * time.Second
	config.requestDelay = time.Millisecond
	config.maxRetries = 1
	config.minDomainDelay = 0
	return config
}

func createTestSource(t *testing.T, repo repository, url, sourceType string) int32 {
	t.Helper()

	id, err := repo.createSource(context.Background(), &data.Source{
		URL:      url,
		Name:     "test source",
		Type:     sourceType,
		IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}
