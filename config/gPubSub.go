package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NotificationEventMessage is the Pub/Sub payload producers publish when a
// business event should be turned into notifications.
type NotificationEventMessage struct {
	Event         string `json:"event" validate:"required"`
	UserId        int    `json:"user_id,omitempty"`
	AppointmentId int    `json:"appointment_id,omitempty"`
	ReviewId      int    `json:"review_id,omitempty"`
	Transition    string `json:"transition,omitempty" validate:"max=100"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// NewPubSubClient creates a Pub/Sub client, retrying up to PUBSUB_CONNECT_ATTEMPTS.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func NewPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")
	maxAttempts := intFromEnv("PUBSUB_CONNECT_ATTEMPTS", 5)

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c, nil
		}
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("init pubsub client: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// PublishNotificationEvent publishes msg and returns the server-assigned message ID.
func PublishNotificationEvent(ctx context.Context, topic *pubsub.Topic, msg NotificationEventMessage) (string, error) {
	if topic == nil {
		return "", errors.New("topic is required")
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"event": msg.Event,
		},
	})
	return result.Get(ctx)
}
