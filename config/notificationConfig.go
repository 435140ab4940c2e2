package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// NotificationConfig holds the environment-level settings of the dispatch engine.
type NotificationConfig struct {
	// ADMIN_NOTIFICATION_EMAIL_TO: required fixed admin address.
	AdminEmailTo string
	// ADMIN_NOTIFICATION_SMS_TO: optional; when blank admin SMS is skipped.
	AdminSmsTo string
	// BUSINESS_NAME: brand used in SMS bodies when settings carry none.
	BusinessName string

	// NOTIFICATIONS_OFFLINE_MODE (or GO_ENV=test): enqueue failures become failed
	// records instead of falling back to one-shot background delivery.
	OfflineMode bool

	Parallelism    int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffBase    float64

	EmailTopic string
	SmsTopic   string
	EventTopic string

	HTTPPort string
}

func LoadNotificationConfig() NotificationConfig {
	offline := boolFromEnv("NOTIFICATIONS_OFFLINE_MODE", false)
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "test") {
		offline = true
	}
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	businessName := strings.TrimSpace(os.Getenv("BUSINESS_NAME"))
	if businessName == "" {
		businessName = "Studio"
	}
	return NotificationConfig{
		AdminEmailTo:   strings.TrimSpace(os.Getenv("ADMIN_NOTIFICATION_EMAIL_TO")),
		AdminSmsTo:     strings.TrimSpace(os.Getenv("ADMIN_NOTIFICATION_SMS_TO")),
		BusinessName:   businessName,
		OfflineMode:    offline,
		Parallelism:    intFromEnv("NOTIFICATION_WORKPOOL_PARALLELISM", 8),
		QueueSize:      intFromEnv("NOTIFICATION_WORKPOOL_QUEUE_SIZE", 1024),
		MaxAttempts:    intFromEnv("NOTIFICATION_MAX_ATTEMPTS", 4),
		InitialBackoff: time.Duration(intFromEnv("NOTIFICATION_INITIAL_BACKOFF_MS", 2000)) * time.Millisecond,
		BackoffBase:    floatFromEnv("NOTIFICATION_BACKOFF_BASE", 2),
		EmailTopic:     strings.TrimSpace(os.Getenv("PUBSUB_EMAIL_TOPIC")),
		SmsTopic:       strings.TrimSpace(os.Getenv("PUBSUB_SMS_TOPIC")),
		EventTopic:     strings.TrimSpace(os.Getenv("PUBSUB_NOTIFICATION_EVENT_TOPIC")),
		HTTPPort:       port,
	}
}

func (c NotificationConfig) Validate() error {
	var errs []error
	if c.AdminEmailTo == "" {
		errs = append(errs, errors.New("ADMIN_NOTIFICATION_EMAIL_TO is required"))
	}
	if c.Parallelism <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_WORKPOOL_PARALLELISM must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}
