package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"snapcart/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHECKOUT_IDEMPOTENCY_WINDOW", "")
	t.Setenv("WORKER_INTERVAL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Checkout.IdempotencyWindow)
	assert.Equal(t, 30*time.Second, cfg.Worker.Interval)
	assert.Equal(t, 10, cfg.Worker.CartClearMaxAttempts)
}

func TestLoadEnvAndFile(t *testing.T) {
	t.Setenv("BLUEPRINT_DB_HOST", "db.internal")
	t.Setenv("DELIVERY_TRY_ON_BONUS", "5")
	t.Setenv("WORKER_INTERVAL", "not-a-duration")

	path := filepath.Join(t.TempDir(), "snapcart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
checkout:
  idempotency_window: 2m
worker:
  gateway_abandon_after: 1h
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.Checkout.DeliveryTryOnBonus)
	assert.Equal(t, 2*time.Minute, cfg.Checkout.IdempotencyWindow)
	assert.Equal(t, time.Hour, cfg.Worker.GatewayAbandonAfter)
	assert.Equal(t, 30*time.Second, cfg.Worker.Interval)
	assert.Contains(t, cfg.DB.DSN(), "@db.internal:")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := config.Load()
	assert.Error(t, err)
}
