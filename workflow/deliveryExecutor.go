package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EmailSender renders and sends the templated emails. The recipient is the
// address persisted on the dispatch record.
type EmailSender interface {
	SendAdminNewCustomerNotification(ctx context.Context, to string, userId int) (models.DeliveryReport, error)
	SendAdminReviewSubmittedNotification(ctx context.Context, to string, reviewId int) (models.DeliveryReport, error)
	SendAdminAppointmentNotification(ctx context.Context, to string, appointmentId int, status string) (models.DeliveryReport, error)
	SendAppointmentConfirmationEmail(ctx context.Context, to string, appointmentId int) (models.DeliveryReport, error)
	SendCustomerAppointmentStatusEmail(ctx context.Context, to string, appointmentId int, status string) (models.DeliveryReport, error)
}

type SmsSender interface {
	SendSms(ctx context.Context, to string, body string) (models.DeliveryReport, error)
}

// Executor performs a single delivery attempt for a dispatch record.
type Executor struct {
	Directory    models.Directory
	Email        EmailSender
	Sms          SmsSender
	BusinessName string
	Logger       *logrus.Logger

	tracer trace.Tracer
}

func NewExecutor(directory models.Directory, email EmailSender, sms SmsSender, businessName string, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		Directory:    directory,
		Email:        email,
		Sms:          sms,
		BusinessName: businessName,
		Logger:       logger,
		tracer:       otel.Tracer("bitbucket.org/mmdatafocus/notification_backend/workflow"),
	}
}

// Deliver returns an error for anything that should be retried: missing
// subject data, transport errors and undelivered reports alike.
func (x *Executor) Deliver(ctx context.Context, rec *models.NotificationDispatch) (models.DeliveryReport, error) {
	ctx, span := x.tracer.Start(ctx, "notification.deliver", trace.WithAttributes(
		attribute.Int("dispatch.id", rec.ID),
		attribute.String("dispatch.event", string(rec.Event)),
		attribute.String("dispatch.channel", string(rec.Channel)),
		attribute.String("dispatch.recipient_type", string(rec.RecipientType)),
	))
	defer span.End()

	var (
		report models.DeliveryReport
		err    error
	)
	switch rec.Channel {
	case models.NotificationChannelEmail:
		report, err = x.deliverEmail(ctx, rec)
	case models.NotificationChannelSms:
		var body string
		body, err = x.SmsBody(ctx, rec)
		if err == nil {
			report, err = x.Sms.SendSms(ctx, rec.Recipient, body)
		}
	default:
		err = fmt.Errorf("unsupported channel %q", rec.Channel)
	}
	if err == nil {
		err = report.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	x.Logger.WithFields(logrus.Fields{
		"field":       "DeliveryExecutor",
		"dispatch_id": rec.ID,
		"event":       rec.Event,
		"channel":     rec.Channel,
		"provider_id": report.ProviderId,
	}).Debug("notification delivered")
	return report, nil
}

func (x *Executor) deliverEmail(ctx context.Context, rec *models.NotificationDispatch) (models.DeliveryReport, error) {
	to := rec.Recipient
	switch rec.RecipientType {
	case models.RecipientTypeAdmin:
		switch rec.Event {
		case models.NotificationEventNewCustomerOnboarded:
			userId, err := requireRef("user", rec.UserId)
			if err != nil {
				return models.DeliveryReport{}, err
			}
			return x.Email.SendAdminNewCustomerNotification(ctx, to, userId)
		case models.NotificationEventReviewSubmitted:
			reviewId, err := requireRef("review", rec.ReviewId)
			if err != nil {
				return models.DeliveryReport{}, err
			}
			return x.Email.SendAdminReviewSubmittedNotification(ctx, to, reviewId)
		case models.NotificationEventAppointmentConfirmed,
			models.NotificationEventAppointmentCancelled,
			models.NotificationEventAppointmentRescheduled,
			models.NotificationEventAppointmentStarted,
			models.NotificationEventAppointmentCompleted:
			action, _ := rec.Event.AppointmentAction()
			appointmentId, err := requireRef("appointment", rec.AppointmentId)
			if err != nil {
				return models.DeliveryReport{}, err
			}
			return x.Email.SendAdminAppointmentNotification(ctx, to, appointmentId, action.StatusLabel())
		}
	case models.RecipientTypeCustomer:
		action, ok := rec.Event.AppointmentAction()
		if !ok {
			break
		}
		appointmentId, err := requireRef("appointment", rec.AppointmentId)
		if err != nil {
			return models.DeliveryReport{}, err
		}
		if action == models.AppointmentActionConfirmed {
			return x.Email.SendAppointmentConfirmationEmail(ctx, to, appointmentId)
		}
		return x.Email.SendCustomerAppointmentStatusEmail(ctx, to, appointmentId, action.StatusLabel())
	}
	return models.DeliveryReport{}, fmt.Errorf("no email template for %s %s", rec.RecipientType, rec.Event)
}

func requireRef(name string, id *int) (int, error) {
	if id == nil {
		return 0, fmt.Errorf("dispatch has no %s reference", name)
	}
	return *id, nil
}
