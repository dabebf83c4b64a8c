package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T, prefix string) *AppConfig {
	t.Helper()
	loader, err := New(&Config{Name: "absent", Paths: []string{t.TempDir()}, EnvPrefix: prefix},
		WithDefaults(DefaultValues()))
	require.NoError(t, err)
	app, err := LoadApp(context.Background(), loader)
	require.NoError(t, err)
	return app
}

func TestLoadAppDefaults(t *testing.T) {
	app := loadDefaults(t, "HVAPP")

	assert.Equal(t, 5000, app.RateLimit.HardLimit)
	assert.Equal(t, 100, app.RateLimit.Buffer)
	assert.Equal(t, time.Hour, app.RateLimit.Window)
	assert.Equal(t, 100*time.Millisecond, app.RateLimit.PollInterval)
	assert.Equal(t, 5, app.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, app.Breaker.Cooldown)
	assert.Equal(t, 3, app.Fetch.RetryAttempts)
	assert.Equal(t, 4*time.Second, app.Fetch.RetryMinWait)
	assert.Equal(t, 10*time.Second, app.Fetch.RetryMaxWait)
	assert.Equal(t, 168*time.Hour, app.Fetch.StaleTTL)
	assert.Equal(t, 7, app.Chunk.MaxDays)
	assert.True(t, app.Parallel.Enabled)
	assert.Equal(t, 5, app.Parallel.MaxWorkers)
	assert.Equal(t, "sqlite", app.Storage.Driver)
	assert.Equal(t, 100, app.Source.PerPage)
	assert.Equal(t, 10, app.Source.MaxPages)
}

func TestLoadAppEnvOverride(t *testing.T) {
	t.Setenv("HVENV_PARALLEL_MAX_WORKERS", "12")
	t.Setenv("HVENV_BREAKER_COOLDOWN", "2m")

	app := loadDefaults(t, "HVENV")

	assert.Equal(t, 12, app.Parallel.MaxWorkers)
	assert.Equal(t, 2*time.Minute, app.Breaker.Cooldown)
}

func TestAppConfigValidate(t *testing.T) {
	base := loadDefaults(t, "HVVAL")

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{"unknown driver", func(c *AppConfig) { c.Storage.Driver = "postgres" }},
		{"mysql without dsn", func(c *AppConfig) { c.Storage.Driver = "mysql" }},
		{"unknown cache", func(c *AppConfig) { c.Cache.Backend = "disk" }},
		{"buffer exceeds limit", func(c *AppConfig) { c.RateLimit.Buffer = 5000 }},
		{"zero threshold", func(c *AppConfig) { c.Breaker.FailureThreshold = 0 }},
		{"zero max days", func(c *AppConfig) { c.Chunk.MaxDays = 0 }},
		{"zero workers", func(c *AppConfig) { c.Parallel.MaxWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err))
		})
	}

	assert.NoError(t, base.Validate())
}
