package transport

import (
	"context"

	"bitbucket.org/mmdatafocus/notification_backend/models"
)

type EmailTemplate string

const (
	EmailTemplateAdminNewCustomer          EmailTemplate = "admin_new_customer"
	EmailTemplateAdminReviewSubmitted      EmailTemplate = "admin_review_submitted"
	EmailTemplateAdminAppointment          EmailTemplate = "admin_appointment_status"
	EmailTemplateAppointmentConfirmation   EmailTemplate = "appointment_confirmation"
	EmailTemplateCustomerAppointmentStatus EmailTemplate = "customer_appointment_status"
)

// EmailRequest asks the mail service to render Template for the referenced
// subject and send it to To.
type EmailRequest struct {
	Template      EmailTemplate `json:"template"`
	To            string        `json:"to"`
	UserId        int           `json:"user_id,omitempty"`
	AppointmentId int           `json:"appointment_id,omitempty"`
	ReviewId      int           `json:"review_id,omitempty"`
	Status        string        `json:"status,omitempty"`
	CorrelationId string        `json:"correlation_id,omitempty"`
}

// EmailSink delivers a single EmailRequest.
type EmailSink interface {
	SendEmail(ctx context.Context, req EmailRequest) (models.DeliveryReport, error)
}

// Emailer exposes the per-template email operations on top of a sink.
type Emailer struct {
	sink EmailSink
}

func NewEmailer(sink EmailSink) *Emailer {
	return &Emailer{sink: sink}
}

func (e *Emailer) SendAdminNewCustomerNotification(ctx context.Context, to string, userId int) (models.DeliveryReport, error) {
	return e.send(ctx, EmailRequest{Template: EmailTemplateAdminNewCustomer, To: to, UserId: userId})
}

func (e *Emailer) SendAdminReviewSubmittedNotification(ctx context.Context, to string, reviewId int) (models.DeliveryReport, error) {
	return e.send(ctx, EmailRequest{Template: EmailTemplateAdminReviewSubmitted, To: to, ReviewId: reviewId})
}

func (e *Emailer) SendAdminAppointmentNotification(ctx context.Context, to string, appointmentId int, status string) (models.DeliveryReport, error) {
	return e.send(ctx, EmailRequest{Template: EmailTemplateAdminAppointment, To: to, AppointmentId: appointmentId, Status: status})
}

func (e *Emailer) SendAppointmentConfirmationEmail(ctx context.Context, to string, appointmentId int) (models.DeliveryReport, error) {
	return e.send(ctx, EmailRequest{Template: EmailTemplateAppointmentConfirmation, To: to, AppointmentId: appointmentId})
}

func (e *Emailer) SendCustomerAppointmentStatusEmail(ctx context.Context, to string, appointmentId int, status string) (models.DeliveryReport, error) {
	return e.send(ctx, EmailRequest{Template: EmailTemplateCustomerAppointmentStatus, To: to, AppointmentId: appointmentId, Status: status})
}

func (e *Emailer) send(ctx context.Context, req EmailRequest) (models.DeliveryReport, error) {
	req.CorrelationId = correlationId(ctx)
	return e.sink.SendEmail(ctx, req)
}
