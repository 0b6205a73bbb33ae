package main

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tldrnews/fetcher/data"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	log "gopkg.in/inconshreveable/log15.v2"
)

// UnsupportedSourceTypeError is raised for a source whose type has no
// registered fetcher. It fails that source's attempt only.
type UnsupportedSourceTypeError struct {
	Type string
}

func (e *UnsupportedSourceTypeError) Error() string {
	return fmt.Sprintf("unsupported source type: %s", e.Type)
}

// sourceFetcher retrieves the raw entries for one source. Implementations
// are registered per source type.
type sourceFetcher interface {
	fetch(ctx context.Context, source *data.Source) ([]rawEntry, error)
}

type feedSourceFetcher struct {
	fetcher *feedFetcher
}

func (f *feedSourceFetcher) fetch(ctx context.Context, source *data.Source) ([]rawEntry, error) {
	return f.fetcher.fetchEntries(ctx, source.ID, source.URL)
}

// siteSourceFetcher is the extension point for website scraping. It is not
// implemented; a site source yields nothing but does not fail.
type siteSourceFetcher struct {
	logger log.Logger
}

func (f *siteSourceFetcher) fetch(ctx context.Context, source *data.Source) ([]rawEntry, error) {
	f.logger.Warn("site fetching not implemented", "sourceID", source.ID, "url", source.URL)
	return nil, nil
}

// cycleStats aggregates one orchestrated pass over the active sources.
type cycleStats struct {
	sourcesProcessed int
	sourcesFailed    int
	entriesFetched   int
	stored           int
	duplicate        int
	errors           int
}

// fetchRunner iterates sources, delegating fetching to the per-type
// fetchers, storage to the ingester, and bookkeeping to the health tracker.
// Sources are processed concurrently up to concurrentLimit, with each
// source isolated: one failure never stops the run.
type fetchRunner struct {
	repo            repository
	fetchers        map[string]sourceFetcher
	ingester        *articleIngester
	health          *sourceHealth
	concurrentLimit int
	minDomainDelay  time.Duration
	logger          log.Logger

	limiterMutex   sync.Mutex
	domainLimiters map[string]*rate.Limiter
}

func newFetchRunner(repo repository, config *fetcherConfig, logger log.Logger) *fetchRunner {
	runner := &fetchRunner{
		repo:            repo,
		ingester:        newArticleIngester(repo, logger.New("module", "ingester")),
		health:          newSourceHealth(repo, config.maxConsecutiveErrors, logger.New("module", "health")),
		concurrentLimit: config.concurrentLimit,
		minDomainDelay:  config.minDomainDelay,
		logger:          logger,
		domainLimiters:  make(map[string]*rate.Limiter),
	}

	runner.fetchers = map[string]sourceFetcher{
		data.SourceTypeFeed: &feedSourceFetcher{fetcher: newFeedFetcher(config, logger.New("module", "fetcher"))},
		data.SourceTypeSite: &siteSourceFetcher{logger: logger},
	}

	return runner
}

// runCycle processes every active source once. Only an inability to load the
// source list is an error; per-source failures are absorbed into the stats.
func (r *fetchRunner) runCycle(ctx context.Context) (cycleStats, error) {
	var stats cycleStats

	sources, err := r.repo.getActiveSources(ctx)
	if err != nil {
		return stats, fmt.Errorf("unable to load active sources: %w", err)
	}

	if len(sources) == 0 {
		r.logger.Warn("no active sources found")
		return stats, nil
	}

	r.logger.Info("starting fetch cycle", "sources", len(sources))

	var statsMutex sync.Mutex
	group := new(errgroup.Group)
	group.SetLimit(r.concurrentLimit)

	for i := range sources {
		source := sources[i]
		group.Go(func() error {
			result := r.processSource(ctx, &source)

			statsMutex.Lock()
			stats.sourcesProcessed++
			if result.failed {
				stats.sourcesFailed++
			}
			stats.entriesFetched += result.entries
			stats.stored += result.store.stored
			stats.duplicate += result.store.duplicate
			stats.errors += result.store.errors
			statsMutex.Unlock()

			return nil
		})
	}
	group.Wait()

	r.logger.Info("fetch cycle completed",
		"sourcesProcessed", stats.sourcesProcessed,
		"sourcesFailed", stats.sourcesFailed,
		"entriesFetched", stats.entriesFetched,
		"stored", stats.stored,
		"duplicate", stats.duplicate,
		"errors", stats.errors)

	return stats, nil
}

// runSingle processes exactly one source by id. A missing or inactive
// source is logged and skipped, not an error.
func (r *fetchRunner) runSingle(ctx context.Context, sourceID int32) (cycleStats, error) {
	var stats cycleStats

	source, err := r.repo.getSource(ctx, sourceID)
	if err == data.ErrNotFound {
		r.logger.Error("source not found", "sourceID", sourceID)
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("unable to load source %d: %w", sourceID, err)
	}

	if !source.IsActive {
		r.logger.Warn("source is not active", "sourceID", sourceID)
		return stats, nil
	}

	result := r.processSource(ctx, source)
	stats.sourcesProcessed = 1
	if result.failed {
		stats.sourcesFailed = 1
	}
	stats.entriesFetched = result.entries
	stats.stored = result.store.stored
	stats.duplicate = result.store.duplicate
	stats.errors = result.store.errors

	return stats, nil
}

type sourceResult struct {
	failed  bool
	entries int
	store   storeStats
}

func (r *fetchRunner) processSource(ctx context.Context, source *data.Source) sourceResult {
	r.logger.Info("fetching source", "sourceID", source.ID, "name", source.Name, "type", source.Type)

	startedAt := time.Now().UTC()
	r.waitForDomain(ctx, source.URL)

	entries, err := r.fetchSource(ctx, source)
	if err != nil {
		r.logger.Error("source fetch failed", "sourceID", source.ID, "name", source.Name, "error", err)
		r.health.recordFailure(ctx, source.ID, err.Error())
		r.writeFetchLog(ctx, source.ID, startedAt, sourceResult{failed: true}, err)
		return sourceResult{failed: true}
	}

	store := r.ingester.storeEntries(ctx, source.ID, entries)
	r.health.recordSuccess(ctx, source.ID)

	result := sourceResult{entries: len(entries), store: store}
	r.writeFetchLog(ctx, source.ID, startedAt, result, nil)

	r.logger.Info("source fetched", "sourceID", source.ID, "name", source.Name,
		"entries", len(entries), "stored", store.stored)

	return result
}

func (r *fetchRunner) fetchSource(ctx context.Context, source *data.Source) ([]rawEntry, error) {
	fetcher, ok := r.fetchers[source.Type]
	if !ok {
		return nil, &UnsupportedSourceTypeError{Type: source.Type}
	}

	return fetcher.fetch(ctx, source)
}

// waitForDomain enforces the minimum delay between requests to the same
// host across all workers in the cycle.
func (r *fetchRunner) waitForDomain(ctx context.Context, sourceURL string) {
	if r.minDomainDelay <= 0 {
		return
	}

	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return
	}

	r.limiterMutex.Lock()
	limiter, ok := r.domainLimiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.minDomainDelay), 1)
		r.domainLimiters[u.Host] = limiter
	}
	r.limiterMutex.Unlock()

	limiter.Wait(ctx)
}

// writeFetchLog records the attempt for operator reporting. Failures here
// are logged and swallowed.
func (r *fetchRunner) writeFetchLog(ctx context.Context, sourceID int32, startedAt time.Time, result sourceResult, fetchErr error) {
	completedAt := time.Now().UTC()

	fl := &data.FetchLog{
		SourceID:      sourceID,
		StartedAt:     startedAt,
		CompletedAt:   pgtype.Timestamptz{Time: completedAt, Valid: true},
		Status:        data.FetchStatusSuccess,
		ArticlesFound: int32(result.entries),
		ArticlesNew:   int32(result.store.stored),
		DurationMS:    pgtype.Int4{Int32: int32(completedAt.Sub(startedAt) / time.Millisecond), Valid: true},
	}
	if fetchErr != nil {
		fl.Status = data.FetchStatusError
		fl.ErrorMessage = pgtype.Text{String: fetchErr.Error(), Valid: true}
	}

	if _, err := r.repo.createFetchLog(ctx, fl); err != nil {
		r.logger.Error("unable to write fetch log", "sourceID", sourceID, "error", err)
	}
}
