package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// FallbackScheduler runs a delivery job once, in the background, when the
// queue could not take it. There is no retry; the outcome is written with a
// single guarded patch, so a crash mid-flight leaves the record queued.
// At most limit runs deliver at the same time; the rest wait their turn.
type FallbackScheduler struct {
	store   DispatchStore
	logger  *logrus.Logger
	metrics *Metrics
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

func NewFallbackScheduler(store DispatchStore, logger *logrus.Logger, metrics *Metrics, limit int) *FallbackScheduler {
	if limit <= 0 {
		limit = workpool.DefaultParallelism
	}
	return &FallbackScheduler{
		store:   store,
		logger:  logger,
		metrics: metrics,
		sem:     semaphore.NewWeighted(int64(limit)),
	}
}

func (f *FallbackScheduler) Schedule(ctx context.Context, dispatchId int, job workpool.Job) {
	ctx = utils.SetDispatchIdInContext(context.WithoutCancel(ctx), dispatchId)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		// ctx is never canceled, so Acquire only returns once a slot is free.
		if err := f.sem.Acquire(ctx, 1); err != nil {
			f.record(ctx, dispatchId, err)
			return
		}
		err := f.runOnce(ctx, job)
		f.sem.Release(1)
		f.record(ctx, dispatchId, err)
	}()
}

// Wait blocks until all scheduled runs have finished.
func (f *FallbackScheduler) Wait() {
	f.wg.Wait()
}

func (f *FallbackScheduler) runOnce(ctx context.Context, job workpool.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithFields(logrus.Fields{
				"field": "FallbackScheduler",
				"stack": string(debug.Stack()),
			}).Error(fmt.Sprintf("fallback delivery panicked: %v", r))
			err = fmt.Errorf("fallback delivery panicked: %v", r)
		}
	}()
	_, err = job(ctx)
	return err
}

func (f *FallbackScheduler) record(ctx context.Context, dispatchId int, deliveryErr error) {
	status := models.DispatchStatusSent
	msg := models.DispatchErrorFallbackNote
	outcome := "sent"
	if deliveryErr != nil {
		status = models.DispatchStatusFailed
		msg = fmt.Sprintf("%s: %v", models.DispatchErrorFallbackNote, deliveryErr)
		outcome = "failed"
	}
	updated, err := f.store.MarkTerminal(ctx, dispatchId, status, &msg)
	if err != nil {
		config.LogError(f.logger, "FallbackScheduler", "record", "patch fallback outcome", dispatchId, err)
		return
	}
	f.metrics.fallback(outcome)
	if updated {
		f.metrics.completed(status)
	}

	entry := f.logger.WithFields(logrus.Fields{
		"field":       "FallbackScheduler",
		"dispatch_id": dispatchId,
		"status":      status,
	})
	if deliveryErr != nil {
		entry.Error("fallback delivery failed: " + deliveryErr.Error())
		return
	}
	entry.Info("fallback delivery sent")
}
