package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_CONN_STR", "loyalty.db")
	t.Setenv("TX_TIMEOUT", "2s")
	t.Setenv("LOCK_TIMEOUT", "1s")
	t.Setenv("NOTIFY_QUEUE_SIZE", "8")
	t.Setenv("TX_RETRIES", "1")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.TxTimeout)
	assert.Equal(t, time.Second, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.NotifyQueueSize)
	assert.Equal(t, 1, cfg.TxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.TxRetryDelay)
}

func TestValidate(t *testing.T) {
	base := Config{
		DBDriver:        "postgres",
		DBConnStr:       "postgres://localhost/loyalty",
		TxTimeout:       5 * time.Second,
		LockTimeout:     time.Second,
		NotifyQueueSize: 10,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"dsn", func(c *Config) { c.DBConnStr = "" }},
		{"tx timeout", func(c *Config) { c.TxTimeout = 0 }},
		{"lock timeout above tx timeout", func(c *Config) { c.LockTimeout = 10 * time.Second }},
		{"retries", func(c *Config) { c.TxRetries = -1 }},
		{"queue", func(c *Config) { c.NotifyQueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
