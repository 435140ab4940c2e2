package transport

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/notification_backend/models"
)

func TestEmailerSelectsTemplates(t *testing.T) {
	mem := NewMemorySender()
	emailer := NewEmailer(mem)
	ctx := context.Background()

	emailer.SendAdminNewCustomerNotification(ctx, "owner@studio.test", 7)
	emailer.SendAdminReviewSubmittedNotification(ctx, "owner@studio.test", 3)
	emailer.SendAdminAppointmentNotification(ctx, "owner@studio.test", 42, "in progress")
	emailer.SendAppointmentConfirmationEmail(ctx, "ada@example.com", 42)
	emailer.SendCustomerAppointmentStatusEmail(ctx, "ada@example.com", 42, "completed")

	want := []EmailRequest{
		{Template: EmailTemplateAdminNewCustomer, To: "owner@studio.test", UserId: 7},
		{Template: EmailTemplateAdminReviewSubmitted, To: "owner@studio.test", ReviewId: 3},
		{Template: EmailTemplateAdminAppointment, To: "owner@studio.test", AppointmentId: 42, Status: "in progress"},
		{Template: EmailTemplateAppointmentConfirmation, To: "ada@example.com", AppointmentId: 42},
		{Template: EmailTemplateCustomerAppointmentStatus, To: "ada@example.com", AppointmentId: 42, Status: "completed"},
	}
	got := mem.Emails()
	if len(got) != len(want) {
		t.Fatalf("expected %d emails, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("email %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestMemorySenderRespondHook(t *testing.T) {
	mem := NewMemorySender()
	mem.Respond(func(channel models.NotificationChannel, to string) (models.DeliveryReport, error) {
		switch to {
		case "+15015550100":
			return models.DeliveryReport{Delivered: false, Error: "carrier rejected"}, nil
		case "+15015550101":
			return models.DeliveryReport{}, errors.New("gateway timeout")
		}
		return models.DeliveryReport{}, nil
	})
	ctx := context.Background()

	report, err := mem.SendSms(ctx, "+15015550100", "a")
	if err != nil || report.Err() == nil || report.Err().Error() != "carrier rejected" {
		t.Fatalf("expected rejected report, got %+v, %v", report, err)
	}
	if _, err := mem.SendSms(ctx, "+15015550101", "b"); err == nil {
		t.Fatal("expected gateway error")
	}
	report, err = mem.SendSms(ctx, "+15015550102", "c")
	if err != nil || !report.Delivered {
		t.Fatalf("expected delivered, got %+v, %v", report, err)
	}
	if len(mem.Sms()) != 3 {
		t.Fatalf("expected every attempt recorded, got %d", len(mem.Sms()))
	}
}
