package main

import (
	"context"
	"time"

	"github.com/tldrnews/fetcher/data"
)

// repository is the persistence boundary for the ingestion pipeline. The pgx
// implementation is the real one; the memory implementation backs tests.
type repository interface {
	getActiveSources(ctx context.Context) ([]data.Source, error)
	getSources(ctx context.Context) ([]data.Source, error)
	getSource(ctx context.Context, id int32) (*data.Source, error)
	createSource(ctx context.Context, src *data.Source) (int32, error)
	sourceExistsByURL(ctx context.Context, url string) (bool, error)
	updateSourceFetchSuccess(ctx context.Context, sourceID int32, fetchTime time.Time) error
	updateSourceFetchFailure(ctx context.Context, sourceID int32, failure string, failureTime time.Time, disableThreshold int32) error

	articleExistsByURL(ctx context.Context, url string) (bool, error)
	createArticle(ctx context.Context, a *data.Article) (int32, error)
	getRecentArticles(ctx context.Context, sourceID int32, limit int32) ([]data.Article, error)
	deleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	createFetchLog(ctx context.Context, fl *data.FetchLog) (int32, error)
}
