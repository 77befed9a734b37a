package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTables(t *testing.T) {
	t.Setenv("TABLE_ORDERS", "orders")
	t.Setenv("TABLE_IDEMPOTENCY", "idempotency")
	t.Setenv("TABLE_NOTIFICATIONS", "notification_jobs")
	t.Setenv("TABLE_PRODUCTS", "products")
	t.Setenv("TABLE_STOCK_LEDGER", "stock_ledger")
}

func TestLoad_Defaults(t *testing.T) {
	setTables(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Tables.Orders)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.WebhookTolerance)
	assert.Equal(t, "COP", cfg.Gateway.Currency)
	assert.Equal(t, 6, cfg.Worker.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseTimeout)
	assert.Empty(t, cfg.Gateway.IntegritySecret)
}

func TestLoad_Overrides(t *testing.T) {
	setTables(t)
	t.Setenv("GATEWAY_INTEGRITY_SECRET", "test_integrity")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("WORKER_MODE", "poll")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test_integrity", cfg.Gateway.IntegritySecret)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "poll", cfg.Worker.Mode)
}

func TestLoad_MissingTable(t *testing.T) {
	setTables(t)
	require.NoError(t, os.Unsetenv("TABLE_ORDERS"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidLeaseTimeout(t *testing.T) {
	for _, v := range []string{"0s", "-1m"} {
		t.Run(v, func(t *testing.T) {
			setTables(t)
			t.Setenv("WORKER_LEASE_TIMEOUT", v)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "WORKER_LEASE_TIMEOUT")
		})
	}
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	setTables(t)
	t.Setenv("WORKER_MAX_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_ClientOptions(t *testing.T) {
	setTables(t)
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	opts := cfg.ClientOptions()
	assert.False(t, opts.Queue)
	assert.False(t, opts.Metrics)

	cfg.Notifications.QueueURL = "https://sqs.us-east-1.amazonaws.com/123/nudges"
	cfg.MetricsEnabled = true
	opts = cfg.ClientOptions()
	assert.True(t, opts.Queue)
	assert.True(t, opts.Metrics)
}
