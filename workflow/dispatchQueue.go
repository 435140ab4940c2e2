package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/sirupsen/logrus"
)

// enqueue submits the delivery job of a freshly queued record. When the queue
// refuses the job the record is either failed (offline mode) or handed to the
// fallback scheduler for a single best-effort attempt.
func (e *Engine) enqueue(ctx context.Context, rec *models.NotificationDispatch) {
	job := e.deliveryJob(rec.ID)
	cc := workpool.CompletionContext{DispatchId: rec.ID}

	workId, err := e.queue.Enqueue(ctx, job, e.cfg.RetryPolicy, cc, e.onComplete)
	if err == nil {
		if serr := e.store.SetWorkId(ctx, rec.ID, workId); serr != nil {
			config.LogError(e.logger, "NotificationEngine", "enqueue", "set work id", rec.ID, serr)
		}
		rec.WorkId = &workId
		return
	}

	fields := logrus.Fields{
		"field":       "NotificationEngine",
		"dispatch_id": rec.ID,
		"event":       rec.Event,
		"channel":     rec.Channel,
	}
	if e.cfg.OfflineMode {
		msg := fmt.Sprintf("%s: %v", models.DispatchErrorQueueUnavailable, err)
		if _, merr := e.store.MarkTerminal(ctx, rec.ID, models.DispatchStatusFailed, &msg); merr != nil {
			config.LogError(e.logger, "NotificationEngine", "enqueue", "mark failed after enqueue error", rec.ID, merr)
			return
		}
		rec.Status = models.DispatchStatusFailed
		rec.Error = &msg
		e.metrics.completed(models.DispatchStatusFailed)
		e.logger.WithFields(fields).Error("notification enqueue failed in offline mode: " + err.Error())
		return
	}

	note := models.DispatchErrorFallbackNote
	if serr := e.store.SetNote(ctx, rec.ID, note); serr != nil {
		config.LogError(e.logger, "NotificationEngine", "enqueue", "set fallback note", rec.ID, serr)
	}
	rec.Error = &note
	e.logger.WithFields(fields).Warn("notification enqueue failed, using fallback: " + err.Error())
	e.fallback.Schedule(ctx, rec.ID, job)
}

// deliveryJob loads the record on every attempt so a retry sees current data.
func (e *Engine) deliveryJob(dispatchId int) workpool.Job {
	return func(ctx context.Context) (any, error) {
		rec, err := e.store.Get(ctx, dispatchId)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("dispatch %d not found", dispatchId)
		}
		report, err := e.deliverer.Deliver(ctx, rec)
		if err != nil {
			return nil, err
		}
		return report, nil
	}
}

func (e *Engine) onComplete(ctx context.Context, cc workpool.CompletionContext, result workpool.Result) {
	if err := e.HandleCompletion(ctx, cc, result); err != nil {
		config.LogError(e.logger, "NotificationEngine", "onComplete", "handle completion", cc.DispatchId, err)
	}
}
