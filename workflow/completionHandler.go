package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/sirupsen/logrus"
)

// HandleCompletion writes the terminal outcome of a queued job onto its record.
// Repeated notifications for the same job are no-ops.
func (e *Engine) HandleCompletion(ctx context.Context, cc workpool.CompletionContext, result workpool.Result) error {
	rec, err := e.store.Get(ctx, cc.DispatchId)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	var (
		status models.DispatchStatus
		errMsg *string
	)
	switch result.Kind {
	case workpool.ResultSuccess:
		status = models.DispatchStatusSent
	case workpool.ResultCanceled:
		status = models.DispatchStatusCanceled
		msg := models.DispatchErrorCanceled
		errMsg = &msg
	default:
		status = models.DispatchStatusFailed
		msg := result.ErrorMessage()
		errMsg = &msg
		e.logger.WithFields(logrus.Fields{
			"field":       "NotificationEngine",
			"dispatch_id": cc.DispatchId,
			"event":       rec.Event,
			"channel":     rec.Channel,
			"attempts":    result.Attempts,
		}).Error("notification delivery failed: " + msg)
	}

	updated, err := e.store.MarkTerminal(ctx, cc.DispatchId, status, errMsg)
	if err != nil {
		return err
	}
	if !updated {
		e.logger.WithFields(logrus.Fields{
			"field":       "NotificationEngine",
			"dispatch_id": cc.DispatchId,
			"status":      rec.Status,
		}).Debug("completion ignored, dispatch already terminal")
		return nil
	}
	e.metrics.completed(status)
	return nil
}
