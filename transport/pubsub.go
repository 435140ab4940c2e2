package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"cloud.google.com/go/pubsub"
)

// SmsRequest is the payload published for the SMS gateway.
type SmsRequest struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

// PubSubSender hands email and SMS requests to the delivery services behind
// Pub/Sub. A send counts as delivered once the broker acknowledged the publish.
type PubSubSender struct {
	EmailTopic *pubsub.Topic
	SmsTopic   *pubsub.Topic
}

func NewPubSubSender(emailTopic, smsTopic *pubsub.Topic) *PubSubSender {
	return &PubSubSender{EmailTopic: emailTopic, SmsTopic: smsTopic}
}

func (s *PubSubSender) SendEmail(ctx context.Context, req EmailRequest) (models.DeliveryReport, error) {
	if s.EmailTopic == nil {
		return models.DeliveryReport{}, errors.New("email topic is not configured")
	}
	return publish(ctx, s.EmailTopic, req, map[string]string{
		"channel":  string(models.NotificationChannelEmail),
		"template": string(req.Template),
	})
}

func (s *PubSubSender) SendSms(ctx context.Context, to string, body string) (models.DeliveryReport, error) {
	if s.SmsTopic == nil {
		return models.DeliveryReport{}, errors.New("sms topic is not configured")
	}
	req := SmsRequest{To: to, Body: body, CorrelationId: correlationId(ctx)}
	return publish(ctx, s.SmsTopic, req, map[string]string{
		"channel": string(models.NotificationChannelSms),
	})
}

func publish(ctx context.Context, topic *pubsub.Topic, payload any, attrs map[string]string) (models.DeliveryReport, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.DeliveryReport{}, err
	}
	if workId, ok := utils.GetWorkIdFromContext(ctx); ok {
		attrs["work_id"] = workId
	}
	id, err := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return models.DeliveryReport{}, fmt.Errorf("publish to %s: %w", topic.ID(), err)
	}
	return models.DeliveryReport{Delivered: true, ProviderId: id}, nil
}

func correlationId(ctx context.Context) string {
	id, _ := utils.GetCorrelationIdFromContext(ctx)
	return id
}
