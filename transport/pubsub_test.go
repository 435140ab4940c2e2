package transport

import (
	"context"
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestTopics(t *testing.T) (*pstest.Server, *pubsub.Topic, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial pstest: %v", err)
	}
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	emailTopic, err := client.CreateTopic(ctx, "notification-email")
	if err != nil {
		t.Fatalf("create email topic: %v", err)
	}
	smsTopic, err := client.CreateTopic(ctx, "notification-sms")
	if err != nil {
		t.Fatalf("create sms topic: %v", err)
	}
	t.Cleanup(func() {
		emailTopic.Stop()
		smsTopic.Stop()
	})
	return srv, emailTopic, smsTopic
}

func TestPubSubSenderPublishesEmailRequest(t *testing.T) {
	srv, emailTopic, smsTopic := newTestTopics(t)
	emailer := NewEmailer(NewPubSubSender(emailTopic, smsTopic))
	ctx := utils.SetCorrelationIdInContext(context.Background(), "corr-1")

	report, err := emailer.SendCustomerAppointmentStatusEmail(ctx, "ada@example.com", 42, "cancelled")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !report.Delivered || report.ProviderId == "" {
		t.Fatalf("expected delivered report with message id, got %+v", report)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	var req EmailRequest
	if err := json.Unmarshal(msgs[0].Data, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Template != EmailTemplateCustomerAppointmentStatus || req.To != "ada@example.com" ||
		req.AppointmentId != 42 || req.Status != "cancelled" || req.CorrelationId != "corr-1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if msgs[0].Attributes["template"] != string(EmailTemplateCustomerAppointmentStatus) {
		t.Fatalf("unexpected attributes: %v", msgs[0].Attributes)
	}
}

func TestPubSubSenderPublishesSms(t *testing.T) {
	srv, emailTopic, smsTopic := newTestTopics(t)
	sender := NewPubSubSender(emailTopic, smsTopic)

	if _, err := sender.SendSms(context.Background(), "+15015550100", "Studio: hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	var req SmsRequest
	if err := json.Unmarshal(msgs[0].Data, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.To != "+15015550100" || req.Body != "Studio: hi" {
		t.Fatalf("unexpected sms request: %+v", req)
	}
	if msgs[0].Attributes["channel"] != "sms" {
		t.Fatalf("unexpected attributes: %v", msgs[0].Attributes)
	}
}

func TestPubSubSenderWithoutTopicFails(t *testing.T) {
	sender := NewPubSubSender(nil, nil)
	if _, err := sender.SendSms(context.Background(), "+15015550100", "x"); err == nil {
		t.Fatal("expected error without sms topic")
	}
	if _, err := sender.SendEmail(context.Background(), EmailRequest{}); err == nil {
		t.Fatal("expected error without email topic")
	}
}
