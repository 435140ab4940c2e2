package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"github.com/sirupsen/logrus"
)

// EnsureResult reports what ensureQueued did for one candidate.
type EnsureResult struct {
	Created       bool                       `json:"created"`
	DispatchId    int                        `json:"dispatch_id"`
	Channel       models.NotificationChannel `json:"channel"`
	RecipientType models.RecipientType       `json:"recipient_type"`
	Status        models.DispatchStatus      `json:"status"`
}

// ensureQueued persists the candidate once per dedupe key. A new record with a
// valid recipient is queued; an invalid recipient is recorded as failed and never queued.
func (e *Engine) ensureQueued(ctx context.Context, c models.DispatchCandidate) (EnsureResult, error) {
	key := c.DedupeKey()
	result := EnsureResult{Channel: c.Channel, RecipientType: c.RecipientType}

	release := e.locker.Acquire(ctx, key, e.cfg.LockTTL)
	defer release()

	existing, err := e.store.FindByDedupeKey(ctx, key)
	if err != nil {
		return result, err
	}
	if existing != nil {
		e.metrics.deduplicated(c.Event)
		return e.alreadyQueued(result, existing), nil
	}

	if verr := validateRecipient(c.Channel, c.Recipient); verr != nil {
		msg := verr.Error()
		rec := c.NewDispatch(models.DispatchStatusFailed, &msg)
		if err := e.store.Create(ctx, rec); err != nil {
			return e.resolveCreateError(ctx, result, key, err)
		}
		e.metrics.created(rec)
		e.logger.WithFields(logrus.Fields{
			"field":          "NotificationEngine",
			"dispatch_id":    rec.ID,
			"event":          c.Event,
			"channel":        c.Channel,
			"recipient_type": c.RecipientType,
		}).Warn("notification recipient rejected: " + msg)
		result.Created = true
		result.DispatchId = rec.ID
		result.Status = rec.Status
		return result, nil
	}

	rec := c.NewDispatch(models.DispatchStatusQueued, nil)
	if err := e.store.Create(ctx, rec); err != nil {
		return e.resolveCreateError(ctx, result, key, err)
	}
	e.metrics.created(rec)
	e.enqueue(ctx, rec)

	result.Created = true
	result.DispatchId = rec.ID
	result.Status = rec.Status
	return result, nil
}

func (e *Engine) alreadyQueued(result EnsureResult, existing *models.NotificationDispatch) EnsureResult {
	result.Created = false
	result.DispatchId = existing.ID
	result.Status = existing.Status
	return result
}

// resolveCreateError treats a lost insert race as an idempotent re-entry.
func (e *Engine) resolveCreateError(ctx context.Context, result EnsureResult, key string, err error) (EnsureResult, error) {
	if !errors.Is(err, models.ErrDuplicateDispatch) {
		config.LogError(e.logger, "NotificationEngine", "ensureQueued", "create dispatch", key, err)
		return result, err
	}
	existing, ferr := e.store.FindByDedupeKey(ctx, key)
	if ferr != nil {
		return result, ferr
	}
	if existing == nil {
		return result, fmt.Errorf("dispatch %q reported duplicate but not found", key)
	}
	e.metrics.deduplicated(existing.Event)
	return e.alreadyQueued(result, existing), nil
}

func validateRecipient(channel models.NotificationChannel, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	switch channel {
	case models.NotificationChannelEmail:
		if recipient == "" {
			return fmt.Errorf("%w: email address is missing", utils.ErrorInvalidRecipient)
		}
		if !utils.IsValidEmail(recipient) {
			return fmt.Errorf("%w: %q is not a valid email address", utils.ErrorInvalidRecipient, recipient)
		}
		return nil
	case models.NotificationChannelSms:
		if recipient == "" {
			return fmt.Errorf("%w: phone number is missing", utils.ErrorInvalidRecipient)
		}
		if err := utils.ValidatePhoneNumber(recipient); err != nil {
			return fmt.Errorf("%w: %q is not an E.164 phone number", utils.ErrorInvalidRecipient, recipient)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown channel %q", utils.ErrorInvalidRecipient, channel)
}
