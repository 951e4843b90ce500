package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DISPATCH_GRACE", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.DispatchGrace)
	assert.Equal(t, "@every 1m", cfg.Scheduler.Cron)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DISPATCH_LIMIT", "25")
	t.Setenv("DISPATCH_GRACE", "2m")
	t.Setenv("SIM_SUCCESS_RATE", "0.5")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("SCHEDULER_CONCURRENCY", "not-a-number")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 25, cfg.Scheduler.DispatchLimit)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.DispatchGrace)
	assert.Equal(t, 0.5, cfg.Provider.SimSuccessRate)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, "warn", cfg.Observ.LogLevel)
	assert.Equal(t, 0.25, cfg.Observ.TraceSampleRatio)
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", Env: "development"},
		Database:  DatabaseConfig{Driver: "memory"},
		Provider:  ProviderConfig{Name: "sim", SimSuccessRate: 0.9},
		Scheduler: SchedulerConfig{Enabled: true, Cron: "@every 1m", DispatchLimit: 10, Concurrency: 2},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Server.Env = "production"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=memory")
	assert.Contains(t, err.Error(), "TRIGGER_SECRET")
	assert.Contains(t, err.Error(), "PROVIDER_WEBHOOK_SECRET")

	c = validConfig()
	c.Provider.Name = "twilio"
	c.Scheduler.DispatchLimit = 0
	c.Summarizer.Enabled = true
	c.Observ.TraceSampleRatio = 1.5
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER must be")
	assert.Contains(t, err.Error(), "DISPATCH_LIMIT")
	assert.Contains(t, err.Error(), "SUMMARIZER_API_KEY")
	assert.Contains(t, err.Error(), "TRACE_SAMPLE_RATIO")
}
