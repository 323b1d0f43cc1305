package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/user"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, user.HistoryCapacity, cfg.Ledger.HistoryCapacity)
	assert.Equal(t, 5*time.Second, cfg.Ledger.HookTimeout)
	assert.False(t, cfg.Ledger.StrictEventOrdering)
	assert.Contains(t, cfg.Stripe.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.Empty(t, cfg.Stripe.PortalURL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
store:
  driver: sqlite
  sqlite:
    path: /tmp/credits.db
stripe:
  plans:
    - price_id: price_pro
      name: Pro
      tier: basic
      credits: 500
      price_cents: 1999
`)
	t.Setenv("CREDITS_LOG_LEVEL", "debug")
	t.Setenv("STRIPE_PRICE_BASIC", "price_basic")
	t.Setenv("CREDITS_LEDGER_STRICT_EVENT_ORDERING", "true")
	t.Setenv("NEXT_PUBLIC_STRIPE_CUSTOMER_PORTAL", "https://billing.stripe.com/p/login/test_123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/credits.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Ledger.StrictEventOrdering)
	assert.Equal(t, "https://billing.stripe.com/p/login/test_123", cfg.Stripe.PortalURL)

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	pro, ok := cat.Resolve("price_pro")
	require.True(t, ok)
	assert.Equal(t, int64(500), pro.Credits)
	assert.Equal(t, "$19.99", pro.Price.String())

	basic, ok := cat.Resolve("price_basic")
	require.True(t, ok)
	assert.Equal(t, user.TierBasic, basic.Tier)
	assert.Equal(t, int64(200), basic.Credits)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: redis\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
		{"bad plan tier", "stripe:\n  plans:\n    - price_id: p1\n      tier: gold\n      credits: 5\n"},
		{"zero history", "ledger:\n  history_capacity: 0\n"},
		{"history above cap", "ledger:\n  history_capacity: 80\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
