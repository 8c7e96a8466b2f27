package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/grantpathway")
	t.Setenv("BASE_URL", "https://grantpathway.example")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
	t.Setenv("MAILGUN_API_KEY", "key-123")
	t.Setenv("MAILGUN_DOMAIN", "mg.grantpathway.example")
	t.Setenv("INTERNAL_API_KEY", "internal-123")
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	viper.Reset()
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StripeAPIBaseURL != "https://api.stripe.com" {
		t.Errorf("unexpected Stripe API base %q", cfg.StripeAPIBaseURL)
	}
	if cfg.MailgunAPIBaseURL != "https://api.mailgun.net" {
		t.Errorf("unexpected Mailgun API base %q", cfg.MailgunAPIBaseURL)
	}
	if cfg.ReissueRateLimit != 5 || cfg.ReissueRateWindowSeconds != 3600 {
		t.Errorf("unexpected re-issuance limits: %d per %ds", cfg.ReissueRateLimit, cfg.ReissueRateWindowSeconds)
	}
	if cfg.StalePendingSweepSchedule == "" || cfg.OutboxPurgeSchedule == "" {
		t.Error("expected default cron schedules")
	}
}

func TestLoadConfig_ReadsEnvironment(t *testing.T) {
	viper.Reset()
	setRequiredEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REISSUE_RATE_LIMIT", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.ServerPort)
	}
	if cfg.ReissueRateLimit != 2 {
		t.Errorf("expected rate limit 2, got %d", cfg.ReissueRateLimit)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/grantpathway" {
		t.Errorf("unexpected database URL %q", cfg.DatabaseURL)
	}
}

func TestLoadConfig_MissingRequiredKey(t *testing.T) {
	viper.Reset()
	setRequiredEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected an error for a missing required key")
	}
	if !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET") {
		t.Fatalf("expected the error to name the missing key, got %v", err)
	}
}
