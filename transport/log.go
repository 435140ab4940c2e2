package transport

import (
	"context"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of sending them. Used when no
// Pub/Sub topics are configured.
type LogSender struct {
	Logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{Logger: logger}
}

func (s *LogSender) SendEmail(ctx context.Context, req EmailRequest) (models.DeliveryReport, error) {
	s.Logger.WithFields(logrus.Fields{
		"field":          "LogSender",
		"channel":        models.NotificationChannelEmail,
		"template":       req.Template,
		"to":             req.To,
		"user_id":        req.UserId,
		"appointment_id": req.AppointmentId,
		"review_id":      req.ReviewId,
		"status":         req.Status,
		"correlation_id": req.CorrelationId,
	}).Info("email not sent: log transport")
	return models.DeliveryReport{Delivered: true, ProviderId: "log-" + uuid.NewString()}, nil
}

func (s *LogSender) SendSms(ctx context.Context, to string, body string) (models.DeliveryReport, error) {
	s.Logger.WithFields(logrus.Fields{
		"field":          "LogSender",
		"channel":        models.NotificationChannelSms,
		"to":             to,
		"correlation_id": correlationId(ctx),
	}).Info("sms not sent: log transport: " + body)
	return models.DeliveryReport{Delivered: true, ProviderId: "log-" + uuid.NewString()}, nil
}
