/**
 * @description
 * This file handles the configuration management for the grant-pathway backend.
 * It uses the Viper library to provide a robust way of reading settings from
 * environment variables or a local .env file.
 *
 * All external state (API keys, base URLs, schedules) enters the process here
 * and is injected into components as an explicit Config struct; nothing reads
 * the environment ad hoc inside handlers.
 *
 * @dependencies
 * - github.com/spf13/viper: A powerful configuration library for Go applications.
 */
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BaseURL is the public origin of the frontend, used to build success and
	// magic-link URLs.
	BaseURL string `mapstructure:"BASE_URL"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `mapstructure:"STRIPE_PRICE_ID"`
	StripeAPIBaseURL    string `mapstructure:"STRIPE_API_BASE_URL"`

	MailgunAPIKey     string `mapstructure:"MAILGUN_API_KEY"`
	MailgunDomain     string `mapstructure:"MAILGUN_DOMAIN"`
	MailgunFrom       string `mapstructure:"MAILGUN_FROM"`
	MailgunAPIBaseURL string `mapstructure:"MAILGUN_API_BASE_URL"`

	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	// InternalAPIKey guards the report upload endpoint used by the curation
	// tooling.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	ReissueRateLimit         int `mapstructure:"REISSUE_RATE_LIMIT"`
	ReissueRateWindowSeconds int `mapstructure:"REISSUE_RATE_WINDOW_SECONDS"`

	StalePendingSweepSchedule string `mapstructure:"STALE_PENDING_SWEEP_SCHEDULE"`
	OutboxPurgeSchedule       string `mapstructure:"OUTBOX_PURGE_SCHEDULE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MAILGUN_API_BASE_URL", "https://api.mailgun.net")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("MAILGUN_FROM", "Grant Pathway <postmaster@mg.grantpathway.com>")
	viper.SetDefault("REISSUE_RATE_LIMIT", 5)
	viper.SetDefault("REISSUE_RATE_WINDOW_SECONDS", 3600)
	viper.SetDefault("STALE_PENDING_SWEEP_SCHEDULE", "0 * * * *")
	viper.SetDefault("OUTBOX_PURGE_SCHEDULE", "30 3 * * *")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind env vars explicitly so they appear in Unmarshal.
	for _, key := range []string{
		"SERVER_PORT",
		"DATABASE_URL",
		"BASE_URL",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"STRIPE_PRICE_ID",
		"STRIPE_API_BASE_URL",
		"MAILGUN_API_KEY",
		"MAILGUN_DOMAIN",
		"MAILGUN_FROM",
		"MAILGUN_API_BASE_URL",
		"RABBITMQ_URL",
		"REDIS_URL",
		"INTERNAL_API_KEY",
		"REISSUE_RATE_LIMIT",
		"REISSUE_RATE_WINDOW_SECONDS",
		"STALE_PENDING_SWEEP_SCHEDULE",
		"OUTBOX_PURGE_SCHEDULE",
	} {
		_ = viper.BindEnv(key)
	}

	// Read the config file if it exists.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return config, config.validate()
}

func (c Config) validate() error {
	required := map[string]string{
		"DATABASE_URL":          c.DatabaseURL,
		"BASE_URL":              c.BaseURL,
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
		"STRIPE_PRICE_ID":       c.StripePriceID,
		"MAILGUN_API_KEY":       c.MailgunAPIKey,
		"MAILGUN_DOMAIN":        c.MailgunDomain,
		"INTERNAL_API_KEY":      c.InternalAPIKey,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("missing required configuration: %s", key)
		}
	}
	return nil
}
