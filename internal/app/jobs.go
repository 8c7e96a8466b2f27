/**
 * @description
 * Scheduled maintenance jobs. Nothing here is on a request path: the jobs give
 * operators visibility into records stuck before payment and keep the email
 * outbox from growing without bound.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaypozo/grant-pathway/internal/store"
)

const (
	stalePendingAge    = 24 * time.Hour
	publishedOutboxAge = 7 * 24 * time.Hour
	jobTimeout         = 2 * time.Minute
)

// Jobs bundles the dependencies the scheduled jobs need.
type Jobs struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewJobs creates the job set.
func NewJobs(repo store.Repository, logger *slog.Logger) *Jobs {
	return &Jobs{repo: repo, logger: logger}
}

// ReportStalePendingRecords logs how many records have been awaiting payment
// for more than a day. Records are never deleted; abandoned checkouts simply
// accumulate, and this keeps the count visible.
func (j *Jobs) ReportStalePendingRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	count, err := j.repo.CountStalePendingRecords(ctx, stalePendingAge)
	if err != nil {
		j.logger.Error("stale pending record sweep failed", "error", err)
		return
	}
	if count > 0 {
		j.logger.Warn("records stuck awaiting payment", "count", count, "older_than", stalePendingAge.String())
	} else {
		j.logger.Info("no stale pending records")
	}
}

// PurgePublishedOutbox deletes delivered outbox rows older than a week.
func (j *Jobs) PurgePublishedOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := j.repo.PurgePublishedOutbox(ctx, publishedOutboxAge)
	if err != nil {
		j.logger.Error("outbox purge failed", "error", err)
		return
	}
	j.logger.Info("purged published outbox rows", "removed", removed)
}
