package main

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tldrnews/fetcher/data"
)

type int32Seq struct {
	current int32
	mutex   sync.Mutex
}

func (s *int32Seq) next() int32 {
	s.mutex.Lock()
	s.current++
	n := s.current
	s.mutex.Unlock()
	return n
}

// memoryRepository mirrors the pgx repository's semantics, including the
// unique URL constraints, so the pipeline can be tested without a database.
type memoryRepository struct {
	mutex         sync.Mutex
	sourcesIDSeq  int32Seq
	sourcesByID   map[int32]*data.Source
	sourcesByURL  map[string]*data.Source
	articlesIDSeq int32Seq
	articlesByID  map[int32]*data.Article
	articlesByURL map[string]*data.Article
	fetchLogIDSeq int32Seq
	fetchLogs     []data.FetchLog

	// forced errors for failure-path tests
	createArticleErr error
	updateSourceErr  error
}

func newMemoryRepository() *memoryRepository {
	repo := &memoryRepository{}
	repo.sourcesByID = make(map[int32]*data.Source)
	repo.sourcesByURL = make(map[string]*data.Source)
	repo.articlesByID = make(map[int32]*data.Article)
	repo.articlesByURL = make(map[string]*data.Article)
	return repo
}

func copySource(src *data.Source) *data.Source {
	s := *src
	return &s
}

func copyArticle(src *data.Article) *data.Article {
	a := *src
	return &a
}

func (repo *memoryRepository) getActiveSources(ctx context.Context) ([]data.Source, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sources := make([]data.Source, 0, len(repo.sourcesByID))
	for id := int32(1); id <= repo.sourcesIDSeq.current; id++ {
		if s, ok := repo.sourcesByID[id]; ok && s.IsActive {
			sources = append(sources, *copySource(s))
		}
	}
	return sources, nil
}

func (repo *memoryRepository) getSources(ctx context.Context) ([]data.Source, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sources := make([]data.Source, 0, len(repo.sourcesByID))
	for id := int32(1); id <= repo.sourcesIDSeq.current; id++ {
		if s, ok := repo.sourcesByID[id]; ok {
			sources = append(sources, *copySource(s))
		}
	}
	return sources, nil
}

func (repo *memoryRepository) getSource(ctx context.Context, id int32) (*data.Source, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	s, ok := repo.sourcesByID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copySource(s), nil
}

func (repo *memoryRepository) createSource(ctx context.Context, src *data.Source) (int32, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if _, ok := repo.sourcesByURL[src.URL]; ok {
		return 0, data.ErrDuplicateURL
	}

	s := copySource(src)
	s.ID = repo.sourcesIDSeq.next()
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	repo.sourcesByID[s.ID] = s
	repo.sourcesByURL[s.URL] = s
	return s.ID, nil
}

func (repo *memoryRepository) sourceExistsByURL(ctx context.Context, url string) (bool, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	_, ok := repo.sourcesByURL[url]
	return ok, nil
}

func (repo *memoryRepository) updateSourceFetchSuccess(ctx context.Context, sourceID int32, fetchTime time.Time) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if repo.updateSourceErr != nil {
		return repo.updateSourceErr
	}

	s, ok := repo.sourcesByID[sourceID]
	if !ok {
		return data.ErrNotFound
	}

	s.LastFetchedAt = pgtype.Timestamptz{Time: fetchTime, Valid: true}
	s.FetchErrorCount = 0
	s.LastErrorMessage = pgtype.Text{}
	s.LastErrorAt = pgtype.Timestamptz{}
	s.UpdatedAt = time.Now()
	return nil
}

func (repo *memoryRepository) updateSourceFetchFailure(ctx context.Context, sourceID int32, failure string, failureTime time.Time, disableThreshold int32) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if repo.updateSourceErr != nil {
		return repo.updateSourceErr
	}

	s, ok := repo.sourcesByID[sourceID]
	if !ok {
		return data.ErrNotFound
	}

	s.FetchErrorCount++
	s.LastErrorMessage = pgtype.Text{String: failure, Valid: true}
	s.LastErrorAt = pgtype.Timestamptz{Time: failureTime, Valid: true}
	if s.FetchErrorCount >= disableThreshold {
		s.IsActive = false
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (repo *memoryRepository) articleExistsByURL(ctx context.Context, url string) (bool, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	_, ok := repo.articlesByURL[url]
	return ok, nil
}

func (repo *memoryRepository) createArticle(ctx context.Context, a *data.Article) (int32, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if repo.createArticleErr != nil {
		return 0, repo.createArticleErr
	}

	if _, ok := repo.articlesByURL[a.URL]; ok {
		return 0, data.ErrDuplicateURL
	}

	stored := copyArticle(a)
	stored.ID = repo.articlesIDSeq.next()
	stored.CreatedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	repo.articlesByID[stored.ID] = stored
	repo.articlesByURL[stored.URL] = stored
	return stored.ID, nil
}

func (repo *memoryRepository) getRecentArticles(ctx context.Context, sourceID int32, limit int32) ([]data.Article, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	articles := make([]data.Article, 0, 16)
	for id := repo.articlesIDSeq.current; id >= 1 && int32(len(articles)) < limit; id-- {
		if a, ok := repo.articlesByID[id]; ok && a.SourceID == sourceID {
			articles = append(articles, *copyArticle(a))
		}
	}
	return articles, nil
}

func (repo *memoryRepository) deleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	var n int64
	for id, a := range repo.articlesByID {
		if a.CreatedAt.Valid && a.CreatedAt.Time.Before(cutoff) {
			delete(repo.articlesByID, id)
			delete(repo.articlesByURL, a.URL)
			n++
		}
	}
	return n, nil
}

func (repo *memoryRepository) createFetchLog(ctx context.Context, fl *data.FetchLog) (int32, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	stored := *fl
	stored.ID = repo.fetchLogIDSeq.next()
	repo.fetchLogs = append(repo.fetchLogs, stored)
	return stored.ID, nil
}
