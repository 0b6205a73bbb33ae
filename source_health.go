package main

import (
	"context"
	"time"

	log "gopkg.in/inconshreveable/log15.v2"
)

// sourceHealth maintains each source's consecutive-error bookkeeping. Both
// record methods persist immediately and never fail the caller: a bookkeeping
// write that goes wrong must not mask the fetch outcome it describes.
type sourceHealth struct {
	repo             repository
	disableThreshold int32
	logger           log.Logger
}

func newSourceHealth(repo repository, disableThreshold int32, logger log.Logger) *sourceHealth {
	return &sourceHealth{
		repo:             repo,
		disableThreshold: disableThreshold,
		logger:           logger,
	}
}

// recordSuccess clears the error counter and stamps last_fetched_at.
func (h *sourceHealth) recordSuccess(ctx context.Context, sourceID int32) {
	err := h.repo.updateSourceFetchSuccess(ctx, sourceID, time.Now().UTC())
	if err != nil {
		h.logger.Error("unable to record fetch success", "sourceID", sourceID, "error", err)
	}
}

// recordFailure increments the error counter and deactivates the source once
// it reaches the disable threshold.
func (h *sourceHealth) recordFailure(ctx context.Context, sourceID int32, message string) {
	err := h.repo.updateSourceFetchFailure(ctx, sourceID, message, time.Now().UTC(), h.disableThreshold)
	if err != nil {
		h.logger.Error("unable to record fetch failure", "sourceID", sourceID, "error", err)
	}
}
