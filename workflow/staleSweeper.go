package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/sirupsen/logrus"
)

// DispatchStaleErrorPrefix starts the error written on records failed by the sweeper.
const DispatchStaleErrorPrefix = "stale: delivery outcome unknown"

// StaleDispatchStore is the persistence the sweeper needs.
type StaleDispatchStore interface {
	ListStaleQueued(ctx context.Context, before time.Time, fallbackOnly bool, limit int) ([]*models.NotificationDispatch, error)
	MarkTerminal(ctx context.Context, id int, status models.DispatchStatus, errMsg *string) (bool, error)
}

type SweepOptions struct {
	// OlderThan is how long a record must have stayed queued.
	OlderThan time.Duration
	// FallbackOnly limits the sweep to records that never reached the queue.
	FallbackOnly bool
	Limit        int
	DryRun       bool
}

type SweepResult struct {
	Cutoff  time.Time
	Matched []*models.NotificationDispatch
	Failed  int
	// Skipped counts records that reached a terminal status between listing and patching.
	Skipped int
}

// SweepStaleDispatches fails records that were left queued because the process
// running their delivery exited. In-memory jobs do not survive a restart, so
// nothing else will ever move them out of queued.
func SweepStaleDispatches(ctx context.Context, store StaleDispatchStore, logger *logrus.Logger, now time.Time, opts SweepOptions) (SweepResult, error) {
	if opts.OlderThan <= 0 {
		return SweepResult{}, fmt.Errorf("sweep: older-than must be positive, got %s", opts.OlderThan)
	}
	result := SweepResult{Cutoff: now.Add(-opts.OlderThan)}

	recs, err := store.ListStaleQueued(ctx, result.Cutoff, opts.FallbackOnly, opts.Limit)
	if err != nil {
		return result, err
	}
	result.Matched = recs
	if opts.DryRun {
		return result, nil
	}

	for _, rec := range recs {
		msg := fmt.Sprintf("%s, queued since %s", DispatchStaleErrorPrefix, rec.UpdatedAt.UTC().Format(time.RFC3339))
		if rec.WorkId == nil && rec.Error != nil {
			msg = *rec.Error + "; " + msg
		}
		updated, err := store.MarkTerminal(ctx, rec.ID, models.DispatchStatusFailed, &msg)
		if err != nil {
			config.LogError(logger, "staleSweeper.go", "SweepStaleDispatches", "mark stale dispatch failed", rec.ID, err)
			return result, err
		}
		if !updated {
			result.Skipped++
			continue
		}
		result.Failed++
		logger.WithFields(logrus.Fields{
			"field":       "StaleSweeper",
			"dispatch_id": rec.ID,
			"event":       rec.Event,
			"channel":     rec.Channel,
		}).Warn("stale queued dispatch marked failed")
	}
	return result, nil
}
