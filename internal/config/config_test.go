package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := FromViper(v)

	assert.Equal(t, ":8080", cfg.AppPort)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "/api/webhooks/lalamove", cfg.Webhook.Path)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 4, cfg.Poll.Concurrency)
	assert.Equal(t, "MOTORCYCLE", cfg.Lalamove.ServiceType)
	assert.False(t, cfg.Webhook.AllowUnsigned)
}

func TestFromViperEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("STORE_LAT", "14.5547")
	t.Setenv("WEBHOOK_ALLOW_UNSIGNED", "true")

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	cfg := FromViper(v)

	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.InDelta(t, 14.5547, cfg.Store.Lat, 1e-9)
	assert.True(t, cfg.Webhook.AllowUnsigned)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseDriver: "sqlite",
			JWTSecret:      "s3cret",
			Lalamove:       LalamoveConfig{APISecret: "sk_test"},
			Poll:           PollConfig{Concurrency: 2},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.JWTSecret = ""
	assert.EqualError(t, cfg.Validate(), "JWT_SECRET is required")

	cfg = valid()
	cfg.DatabaseDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Lalamove.APISecret = ""
	assert.Error(t, cfg.Validate())
	cfg.Webhook.AllowUnsigned = true
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Poll.Concurrency = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Poll.Concurrency)
}
