package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the typed application configuration.
type Config struct {
	AppPort  string
	LogLevel string

	DatabaseDriver string
	DatabaseDSN    string
	RabbitMQURL    string

	JWTSecret     string
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	Lalamove LalamoveConfig
	Store    StoreConfig
	Webhook  WebhookConfig
	Poll     PollConfig

	NotifyBuffer int
}

// LalamoveConfig holds delivery provider credentials and defaults.
type LalamoveConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Market      string
	ServiceType string
	Language    string
}

// StoreConfig is the pickup location used as the first delivery stop.
type StoreConfig struct {
	Name    string
	Phone   string
	Address string
	Lat     float64
	Lng     float64
}

// WebhookConfig controls inbound provider callbacks.
type WebhookConfig struct {
	Path          string
	AllowUnsigned bool
	Timeout       time.Duration
}

// PollConfig controls the delivery status polling fallback.
type PollConfig struct {
	Interval    time.Duration
	Concurrency int
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=127.0.0.1 user=postgres password=postgres dbname=frostmart port=5432 sslmode=disable")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_EMAIL", "admin@frostmart.local")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("LALAMOVE_BASE_URL", "https://rest.sandbox.lalamove.com")
	v.SetDefault("LALAMOVE_API_KEY", "")
	v.SetDefault("LALAMOVE_API_SECRET", "")
	v.SetDefault("LALAMOVE_MARKET", "PH")
	v.SetDefault("LALAMOVE_SERVICE_TYPE", "MOTORCYCLE")
	v.SetDefault("LALAMOVE_LANGUAGE", "en_PH")
	v.SetDefault("STORE_NAME", "Frostmart")
	v.SetDefault("STORE_PHONE", "")
	v.SetDefault("STORE_ADDRESS", "")
	v.SetDefault("STORE_LAT", 0.0)
	v.SetDefault("STORE_LNG", 0.0)
	v.SetDefault("WEBHOOK_PATH", "/api/webhooks/lalamove")
	v.SetDefault("WEBHOOK_ALLOW_UNSIGNED", false)
	v.SetDefault("WEBHOOK_TIMEOUT", 5*time.Second)
	v.SetDefault("POLL_INTERVAL", time.Minute)
	v.SetDefault("POLL_CONCURRENCY", 4)
	v.SetDefault("NOTIFY_BUFFER", 256)
}

// Load reads .env (when present), an optional config.yaml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/frostmart")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppPort:        v.GetString("APP_PORT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		DatabaseDriver: v.GetString("DATABASE_DRIVER"),
		DatabaseDSN:    v.GetString("DATABASE_DSN"),
		RabbitMQURL:    v.GetString("RABBITMQ_URL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		AdminUsername:  v.GetString("ADMIN_USERNAME"),
		AdminEmail:     v.GetString("ADMIN_EMAIL"),
		AdminPassword:  v.GetString("ADMIN_PASSWORD"),
		Lalamove: LalamoveConfig{
			BaseURL:     v.GetString("LALAMOVE_BASE_URL"),
			APIKey:      v.GetString("LALAMOVE_API_KEY"),
			APISecret:   v.GetString("LALAMOVE_API_SECRET"),
			Market:      v.GetString("LALAMOVE_MARKET"),
			ServiceType: v.GetString("LALAMOVE_SERVICE_TYPE"),
			Language:    v.GetString("LALAMOVE_LANGUAGE"),
		},
		Store: StoreConfig{
			Name:    v.GetString("STORE_NAME"),
			Phone:   v.GetString("STORE_PHONE"),
			Address: v.GetString("STORE_ADDRESS"),
			Lat:     v.GetFloat64("STORE_LAT"),
			Lng:     v.GetFloat64("STORE_LNG"),
		},
		Webhook: WebhookConfig{
			Path:          v.GetString("WEBHOOK_PATH"),
			AllowUnsigned: v.GetBool("WEBHOOK_ALLOW_UNSIGNED"),
			Timeout:       v.GetDuration("WEBHOOK_TIMEOUT"),
		},
		Poll: PollConfig{
			Interval:    v.GetDuration("POLL_INTERVAL"),
			Concurrency: v.GetInt("POLL_CONCURRENCY"),
		},
		NotifyBuffer: v.GetInt("NOTIFY_BUFFER"),
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if !c.Webhook.AllowUnsigned && c.Lalamove.APISecret == "" {
		return errors.New("LALAMOVE_API_SECRET is required unless WEBHOOK_ALLOW_UNSIGNED is set")
	}
	if c.Poll.Concurrency < 1 {
		c.Poll.Concurrency = 1
	}
	return nil
}
