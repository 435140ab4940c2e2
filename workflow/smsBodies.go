package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/shopspring/decimal"
)

const (
	smsDateLayout = "Mon, Jan 2"
	smsTimeLayout = "3:04 PM"
)

// SmsBody builds the one-line, business-branded text for rec. Admin texts say
// what happened to whom; customer texts address the customer.
func (x *Executor) SmsBody(ctx context.Context, rec *models.NotificationDispatch) (string, error) {
	settings, err := x.Directory.GetBusinessSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load business settings: %w", err)
	}
	brand := x.BusinessName
	if settings != nil && strings.TrimSpace(settings.BusinessName) != "" {
		brand = strings.TrimSpace(settings.BusinessName)
	}

	switch rec.Event {
	case models.NotificationEventNewCustomerOnboarded:
		user, err := x.loadUser(ctx, rec.UserId)
		if err != nil {
			return "", err
		}
		who := user.DisplayName()
		if user.Email != "" {
			who = fmt.Sprintf("%s (%s)", who, user.Email)
		}
		return fmt.Sprintf("%s: New customer %s just signed up.", brand, who), nil

	case models.NotificationEventReviewSubmitted:
		reviewId, err := requireRef("review", rec.ReviewId)
		if err != nil {
			return "", err
		}
		review, err := x.Directory.GetReview(ctx, reviewId)
		if err != nil {
			return "", fmt.Errorf("load review %d: %w", reviewId, err)
		}
		if review == nil {
			return "", fmt.Errorf("review %d not found", reviewId)
		}
		who := "A customer"
		if user, err := x.Directory.GetUser(ctx, review.UserId); err == nil && user != nil {
			who = user.DisplayName()
		}
		return fmt.Sprintf("%s: %s left a %d-star review.", brand, who, review.Rating), nil

	case models.NotificationEventAppointmentConfirmed,
		models.NotificationEventAppointmentCancelled,
		models.NotificationEventAppointmentRescheduled,
		models.NotificationEventAppointmentStarted,
		models.NotificationEventAppointmentCompleted:
		return x.appointmentSmsBody(ctx, rec, brand, settings)
	}
	return "", fmt.Errorf("no sms body for event %q", rec.Event)
}

func (x *Executor) appointmentSmsBody(ctx context.Context, rec *models.NotificationDispatch, brand string, settings *models.BusinessSettings) (string, error) {
	action, _ := rec.Event.AppointmentAction()
	appointmentId, err := requireRef("appointment", rec.AppointmentId)
	if err != nil {
		return "", err
	}
	appointment, err := x.Directory.GetAppointment(ctx, appointmentId)
	if err != nil {
		return "", fmt.Errorf("load appointment %d: %w", appointmentId, err)
	}
	if appointment == nil {
		return "", fmt.Errorf("appointment %d not found", appointmentId)
	}
	user, err := x.loadUser(ctx, &appointment.UserId)
	if err != nil {
		return "", err
	}

	startsAt := appointment.StartsAt.In(settings.Location())
	date := startsAt.Format(smsDateLayout)
	clock := startsAt.Format(smsTimeLayout)
	label := action.StatusLabel()

	if rec.RecipientType == models.RecipientTypeAdmin {
		return fmt.Sprintf("%s: %s's appointment on %s at %s is %s.", brand, user.DisplayName(), date, clock, label), nil
	}

	body := fmt.Sprintf("%s: Hi %s, your appointment on %s at %s is %s.", brand, user.DisplayName(), date, clock, label)
	if action == models.AppointmentActionConfirmed {
		invoice, err := x.Directory.GetInvoiceByAppointment(ctx, appointmentId)
		if err != nil {
			return "", fmt.Errorf("load invoice of appointment %d: %w", appointmentId, err)
		}
		if invoice != nil && invoice.DepositPaid && invoice.DepositAmount.GreaterThan(decimal.Zero) {
			body += fmt.Sprintf(" Deposit of %s received.", invoice.DepositAmount.StringFixed(2))
		}
	}
	return body, nil
}

func (x *Executor) loadUser(ctx context.Context, userId *int) (*models.User, error) {
	id, err := requireRef("user", userId)
	if err != nil {
		return nil, err
	}
	user, err := x.Directory.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", id)
	}
	return user, nil
}
