package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/internal/config"
	"github.com/DimensionCoin/credits/store/sqlite"
	"github.com/DimensionCoin/credits/user"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// sqliteEnv points configuration at a fresh sqlite file holding one user.
func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credits.db")
	t.Setenv("CREDITS_STORE_DRIVER", "sqlite")
	t.Setenv("CREDITS_STORE_SQLITE_PATH", path)
	t.Setenv("CREDITS_LOG_LEVEL", "error")

	st, err := sqlite.Open(path)
	require.NoError(t, err)
	eng := credits.New(st)
	require.NoError(t, eng.Start(context.Background()))
	_, err = eng.EnsureUser(context.Background(), "user_ada", user.Profile{Email: "ada@example.com"})
	require.NoError(t, err)
	require.NoError(t, eng.Stop())
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "creditsd dev\n", out)
}

func TestPlans(t *testing.T) {
	t.Setenv("CREDITS_STRIPE_PRICE_BASIC", "price_basic_monthly")

	out, err := run(t, "plans")
	require.NoError(t, err)
	assert.Contains(t, out, "PRICE ID")
	assert.Contains(t, out, "price_basic_monthly")
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "200")
}

func TestMigrate(t *testing.T) {
	sqliteEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "sqlite store is up to date\n", out)
}

func TestOperatorCommands(t *testing.T) {
	sqliteEnv(t)

	out, err := run(t, "grant", "user_ada", "15")
	require.NoError(t, err)
	assert.Equal(t, "granted 15 credits to user_ada, balance 25\n", out)

	out, err = run(t, "consume", "user_ada", "5", "--category", "support", "--detail", "manual adjustment")
	require.NoError(t, err)
	assert.Equal(t, "consumed 5 credits from user_ada, balance 20\n", out)

	out, err = run(t, "user", "get", "user_ada")
	require.NoError(t, err)
	var u user.User
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.Equal(t, int64(20), u.Credits)
	require.Len(t, u.UsageHistory, 1)
	assert.Equal(t, "support", u.UsageHistory[0].Category)
	assert.Equal(t, "manual adjustment", u.UsageHistory[0].Detail)

	_, err = run(t, "consume", "user_ada", "500")
	assert.ErrorIs(t, err, credits.ErrInsufficientCreditsOrNotFound)

	_, err = run(t, "user", "get", "user_nobody")
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func TestAmountValidation(t *testing.T) {
	for _, amount := range []string{"0", "-3", "ten"} {
		_, err := run(t, "grant", "user_ada", amount)
		assert.ErrorContains(t, err, "amount must be a positive integer", amount)
	}
}

func TestServerWiring(t *testing.T) {
	t.Setenv("CREDITS_STORE_DRIVER", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)

	srv, err := newServer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.engine.Stop() })

	_, err = srv.engine.EnsureUser(context.Background(), "user_ada", user.Profile{Email: "ada@example.com"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credits_users_created_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
