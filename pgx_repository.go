package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tldrnews/fetcher/data"
)

type pgxRepository struct {
	pool *pgxpool.Pool
}

func newPgxRepository(pool *pgxpool.Pool) *pgxRepository {
	return &pgxRepository{pool: pool}
}

func (repo *pgxRepository) getActiveSources(ctx context.Context) ([]data.Source, error) {
	return data.SelectActiveSources(ctx, repo.pool)
}

func (repo *pgxRepository) getSources(ctx context.Context) ([]data.Source, error) {
	return data.SelectSources(ctx, repo.pool)
}

func (repo *pgxRepository) getSource(ctx context.Context, id int32) (*data.Source, error) {
	return data.SelectSourceByID(ctx, repo.pool, id)
}

func (repo *pgxRepository) createSource(ctx context.Context, src *data.Source) (int32, error) {
	return data.InsertSource(ctx, repo.pool, src)
}

func (repo *pgxRepository) sourceExistsByURL(ctx context.Context, url string) (bool, error) {
	return data.SourceExistsByURL(ctx, repo.pool, url)
}

func (repo *pgxRepository) updateSourceFetchSuccess(ctx context.Context, sourceID int32, fetchTime time.Time) error {
	return data.UpdateSourceFetchSuccess(ctx, repo.pool, sourceID, fetchTime)
}

func (repo *pgxRepository) updateSourceFetchFailure(ctx context.Context, sourceID int32, failure string, failureTime time.Time, disableThreshold int32) error {
	return data.UpdateSourceFetchFailure(ctx, repo.pool, sourceID, failure, failureTime, disableThreshold)
}

func (repo *pgxRepository) articleExistsByURL(ctx context.Context, url string) (bool, error) {
	return data.ArticleExistsByURL(ctx, repo.pool, url)
}

func (repo *pgxRepository) createArticle(ctx context.Context, a *data.Article) (int32, error) {
	return data.InsertArticle(ctx, repo.pool, a)
}

func (repo *pgxRepository) getRecentArticles(ctx context.Context, sourceID int32, limit int32) ([]data.Article, error) {
	return data.SelectRecentArticles(ctx, repo.pool, sourceID, limit)
}

func (repo *pgxRepository) deleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return data.DeleteArticlesBefore(ctx, repo.pool, cutoff)
}

func (repo *pgxRepository) createFetchLog(ctx context.Context, fl *data.FetchLog) (int32, error) {
	return data.InsertFetchLog(ctx, repo.pool, fl)
}
