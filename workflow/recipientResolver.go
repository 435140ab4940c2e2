package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	SuppressedUserNotFound        = "user not found"
	SuppressedAppointmentNotFound = "appointment not found"
	SuppressedReviewNotFound      = "review not found"
	SuppressedDepositNotPaid      = "deposit not paid"
)

// QueueSummary describes what one event occurrence produced.
type QueueSummary struct {
	Event         models.NotificationEvent `json:"event"`
	CorrelationId string                   `json:"correlation_id"`
	// Suppressed is set when the event produced no dispatch at all.
	Suppressed string         `json:"suppressed,omitempty"`
	Results    []EnsureResult `json:"results"`
}

// subjectRefs are the ids carried on every candidate of one event occurrence.
type subjectRefs struct {
	userId        *int
	appointmentId *int
	reviewId      *int
	transition    *string
}

// QueueNewCustomerOnboarded notifies the admin that userId signed up.
func (e *Engine) QueueNewCustomerOnboarded(ctx context.Context, userId int, transition string) (QueueSummary, error) {
	event := models.NotificationEventNewCustomerOnboarded
	ctx, summary := e.begin(ctx, event)

	user, err := e.directory.GetUser(ctx, userId)
	if err != nil {
		return summary, fmt.Errorf("load user %d: %w", userId, err)
	}
	if user == nil {
		return e.suppress(ctx, summary, SuppressedUserNotFound, logrus.Fields{"user_id": userId}), nil
	}
	settings, err := e.directory.GetBusinessSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("load business settings: %w", err)
	}

	refs := subjectRefs{userId: &user.ID, transition: utils.OptionalString(transition)}
	return e.queueCandidates(ctx, summary, e.adminCandidates(event, settings, refs))
}

// QueueAppointmentLifecycleEvent notifies admin and customer of an appointment
// status change. A confirmation is held back until the deposit is paid.
func (e *Engine) QueueAppointmentLifecycleEvent(ctx context.Context, appointmentId int, action models.AppointmentAction, transition string) (QueueSummary, error) {
	event, err := action.Event()
	if err != nil {
		return QueueSummary{}, err
	}
	ctx, summary := e.begin(ctx, event)

	appointment, err := e.directory.GetAppointment(ctx, appointmentId)
	if err != nil {
		return summary, fmt.Errorf("load appointment %d: %w", appointmentId, err)
	}
	if appointment == nil {
		return e.suppress(ctx, summary, SuppressedAppointmentNotFound, logrus.Fields{"appointment_id": appointmentId}), nil
	}
	user, err := e.directory.GetUser(ctx, appointment.UserId)
	if err != nil {
		return summary, fmt.Errorf("load user %d: %w", appointment.UserId, err)
	}
	if user == nil {
		return e.suppress(ctx, summary, SuppressedUserNotFound, logrus.Fields{
			"appointment_id": appointmentId,
			"user_id":        appointment.UserId,
		}), nil
	}

	if action == models.AppointmentActionConfirmed {
		invoice, err := e.directory.GetInvoiceByAppointment(ctx, appointmentId)
		if err != nil {
			return summary, fmt.Errorf("load invoice of appointment %d: %w", appointmentId, err)
		}
		if invoice == nil || !invoice.DepositPaid {
			return e.suppress(ctx, summary, SuppressedDepositNotPaid, logrus.Fields{
				"appointment_id": appointmentId,
				"has_invoice":    invoice != nil,
			}), nil
		}
	}

	settings, err := e.directory.GetBusinessSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("load business settings: %w", err)
	}

	refs := subjectRefs{
		userId:        &user.ID,
		appointmentId: &appointment.ID,
		transition:    utils.OptionalString(transition),
	}
	candidates := e.adminCandidates(event, settings, refs)
	candidates = append(candidates, e.customerCandidates(event, user, refs)...)
	return e.queueCandidates(ctx, summary, candidates)
}

// QueueReviewSubmitted notifies the admin of a new review.
func (e *Engine) QueueReviewSubmitted(ctx context.Context, reviewId int, transition string) (QueueSummary, error) {
	event := models.NotificationEventReviewSubmitted
	ctx, summary := e.begin(ctx, event)

	review, err := e.directory.GetReview(ctx, reviewId)
	if err != nil {
		return summary, fmt.Errorf("load review %d: %w", reviewId, err)
	}
	if review == nil {
		return e.suppress(ctx, summary, SuppressedReviewNotFound, logrus.Fields{"review_id": reviewId}), nil
	}
	settings, err := e.directory.GetBusinessSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("load business settings: %w", err)
	}

	refs := subjectRefs{
		userId:     &review.UserId,
		reviewId:   &review.ID,
		transition: utils.OptionalString(transition),
	}
	return e.queueCandidates(ctx, summary, e.adminCandidates(event, settings, refs))
}

func (e *Engine) begin(ctx context.Context, event models.NotificationEvent) (context.Context, QueueSummary) {
	correlationId := utils.CorrelationIdFromContextOrNew(ctx)
	ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	return ctx, QueueSummary{Event: event, CorrelationId: correlationId, Results: []EnsureResult{}}
}

func (e *Engine) suppress(ctx context.Context, summary QueueSummary, reason string, fields logrus.Fields) QueueSummary {
	summary.Suppressed = reason
	e.metrics.suppressed(summary.Event, reason)
	fields["field"] = "NotificationEngine"
	fields["event"] = summary.Event
	fields["correlation_id"] = summary.CorrelationId
	e.logger.WithFields(fields).Info("notification suppressed: " + reason)
	return summary
}

// adminCandidates applies the business-wide toggles. Admin SMS additionally
// needs a configured number.
func (e *Engine) adminCandidates(event models.NotificationEvent, settings *models.BusinessSettings, refs subjectRefs) []models.DispatchCandidate {
	var prefs *models.NotificationPreferences
	if settings != nil {
		prefs = &settings.Notifications
	}
	var out []models.DispatchCandidate
	if prefs.Allows(event, models.NotificationChannelEmail) {
		out = append(out, refs.candidate(event, models.NotificationChannelEmail, models.RecipientTypeAdmin, e.cfg.AdminEmailTo))
	}
	if prefs.Allows(event, models.NotificationChannelSms) && strings.TrimSpace(e.cfg.AdminSmsTo) != "" {
		out = append(out, refs.candidate(event, models.NotificationChannelSms, models.RecipientTypeAdmin, e.cfg.AdminSmsTo))
	}
	return out
}

// customerCandidates applies the customer's own toggles. A customer without a
// phone simply gets no SMS; a missing email is recorded as a failed dispatch.
func (e *Engine) customerCandidates(event models.NotificationEvent, user *models.User, refs subjectRefs) []models.DispatchCandidate {
	if event.IsAdminOnly() || user == nil {
		return nil
	}
	prefs := &user.NotificationPreferences
	var out []models.DispatchCandidate
	if prefs.Allows(event, models.NotificationChannelEmail) {
		out = append(out, refs.candidate(event, models.NotificationChannelEmail, models.RecipientTypeCustomer, user.Email))
	}
	phone := strings.TrimSpace(utils.DereferencePtr(user.Phone, ""))
	if prefs.Allows(event, models.NotificationChannelSms) && phone != "" {
		out = append(out, refs.candidate(event, models.NotificationChannelSms, models.RecipientTypeCustomer, phone))
	}
	return out
}

func (r subjectRefs) candidate(event models.NotificationEvent, channel models.NotificationChannel, recipientType models.RecipientType, recipient string) models.DispatchCandidate {
	return models.DispatchCandidate{
		Event:         event,
		Channel:       channel,
		RecipientType: recipientType,
		Recipient:     strings.TrimSpace(recipient),
		UserId:        r.userId,
		AppointmentId: r.appointmentId,
		ReviewId:      r.reviewId,
		Transition:    r.transition,
	}
}

// queueCandidates ensures every candidate independently; one failing
// candidate does not stop the others.
func (e *Engine) queueCandidates(ctx context.Context, summary QueueSummary, candidates []models.DispatchCandidate) (QueueSummary, error) {
	var errs []error
	for _, c := range candidates {
		res, err := e.ensureQueued(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", c.RecipientType, c.Channel, err))
			continue
		}
		summary.Results = append(summary.Results, res)
	}

	created := 0
	for _, r := range summary.Results {
		if r.Created {
			created++
		}
	}
	e.logger.WithFields(logrus.Fields{
		"field":          "NotificationEngine",
		"event":          summary.Event,
		"correlation_id": summary.CorrelationId,
		"candidates":     len(candidates),
		"created":        created,
		"errors":         len(errs),
	}).Info("notification event processed")

	return summary, errors.Join(errs...)
}
