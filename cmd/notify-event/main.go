package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/google/uuid"
)

func main() {
	event := flag.String("event", "", "Event name, e.g. appointment_cancelled (required).")
	userID := flag.Int("user-id", 0, "User id (new_customer_onboarded).")
	appointmentID := flag.Int("appointment-id", 0, "Appointment id (appointment_* events).")
	reviewID := flag.Int("review-id", 0, "Review id (review_submitted).")
	transition := flag.String("transition", "", "Optional transition label, e.g. booked->cancelled. Part of the dedupe key.")
	topic := flag.String("topic", os.Getenv("PUBSUB_NOTIFICATION_EVENT_TOPIC"), "Pub/Sub topic (default PUBSUB_NOTIFICATION_EVENT_TOPIC).")
	correlationID := flag.String("correlation-id", "", "Optional correlation id. Generated when empty.")
	timeout := flag.Duration("timeout", 30*time.Second, "Publish timeout.")
	flag.Parse()

	msg, err := buildMessage(*event, *userID, *appointmentID, *reviewID, *transition, *correlationID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if strings.TrimSpace(*topic) == "" {
		fmt.Fprintln(os.Stderr, "-topic or PUBSUB_NOTIFICATION_EVENT_TOPIC is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := config.NewPubSubClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	t, err := config.CreateTopicIfNotExists(ctx, client, strings.TrimSpace(*topic))
	if err != nil {
		fmt.Fprintf(os.Stderr, "topic: %v\n", err)
		os.Exit(1)
	}
	defer t.Stop()

	id, err := config.PublishNotificationEvent(ctx, t, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published event=%s message_id=%s correlation_id=%s\n", msg.Event, id, msg.CorrelationId)
}

// buildMessage checks that the id required by event is present.
func buildMessage(event string, userID, appointmentID, reviewID int, transition, correlationID string) (config.NotificationEventMessage, error) {
	e, err := models.ParseNotificationEvent(event)
	if err != nil {
		return config.NotificationEventMessage{}, err
	}
	msg := config.NotificationEventMessage{
		Event:         string(e),
		Transition:    strings.TrimSpace(transition),
		CorrelationId: strings.TrimSpace(correlationID),
	}
	if msg.CorrelationId == "" {
		msg.CorrelationId = uuid.NewString()
	}

	switch {
	case e == models.NotificationEventNewCustomerOnboarded:
		if userID <= 0 {
			return msg, fmt.Errorf("-user-id is required for %s", e)
		}
		msg.UserId = userID
	case e == models.NotificationEventReviewSubmitted:
		if reviewID <= 0 {
			return msg, fmt.Errorf("-review-id is required for %s", e)
		}
		msg.ReviewId = reviewID
	default:
		if _, ok := e.AppointmentAction(); !ok {
			return msg, fmt.Errorf("unsupported event %s", e)
		}
		if appointmentID <= 0 {
			return msg, fmt.Errorf("-appointment-id is required for %s", e)
		}
		msg.AppointmentId = appointmentID
	}
	return msg, nil
}
