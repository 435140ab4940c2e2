package config

import (
	"testing"
	"time"
)

func TestLoadNotificationConfigDefaults(t *testing.T) {
	t.Setenv("ADMIN_NOTIFICATION_EMAIL_TO", "owner@studio.test")
	t.Setenv("ADMIN_NOTIFICATION_SMS_TO", "")
	t.Setenv("NOTIFICATIONS_OFFLINE_MODE", "")
	t.Setenv("GO_ENV", "")
	t.Setenv("NOTIFICATION_WORKPOOL_PARALLELISM", "")
	t.Setenv("NOTIFICATION_MAX_ATTEMPTS", "")
	t.Setenv("NOTIFICATION_INITIAL_BACKOFF_MS", "")
	t.Setenv("NOTIFICATION_BACKOFF_BASE", "")

	cfg := LoadNotificationConfig()
	if cfg.Parallelism != 8 {
		t.Fatalf("expected parallelism 8, got %d", cfg.Parallelism)
	}
	if cfg.MaxAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 2*time.Second {
		t.Fatalf("expected 2s initial backoff, got %s", cfg.InitialBackoff)
	}
	if cfg.BackoffBase != 2 {
		t.Fatalf("expected base 2, got %v", cfg.BackoffBase)
	}
	if cfg.OfflineMode {
		t.Fatal("offline mode should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadNotificationConfigTestEnvIsOffline(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("NOTIFICATIONS_OFFLINE_MODE", "")

	if !LoadNotificationConfig().OfflineMode {
		t.Fatal("GO_ENV=test should force offline mode")
	}
}

func TestNotificationConfigRequiresAdminEmail(t *testing.T) {
	t.Setenv("ADMIN_NOTIFICATION_EMAIL_TO", "")

	if err := LoadNotificationConfig().Validate(); err == nil {
		t.Fatal("expected missing admin email to fail validation")
	}
}
