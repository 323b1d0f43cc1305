package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/api"
	audithook "github.com/DimensionCoin/credits/audit_hook"
	"github.com/DimensionCoin/credits/clerkhook"
	"github.com/DimensionCoin/credits/internal/config"
	"github.com/DimensionCoin/credits/internal/logging"
	"github.com/DimensionCoin/credits/observability"
	"github.com/DimensionCoin/credits/observability/prom"
	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/store/memory"
	"github.com/DimensionCoin/credits/store/mongo"
	"github.com/DimensionCoin/credits/store/postgres"
	"github.com/DimensionCoin/credits/store/sqlite"
	"github.com/DimensionCoin/credits/stripehook"
)

// openStore connects the backend named by store.driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "mongo":
		return mongo.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path)
	case "postgres":
		return postgres.Open(ctx, cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "creditsd",
	}, w)
}

// newEngine opens the store and starts an engine over it. Stopping the
// engine closes the store.
func newEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...credits.Option) (*credits.Engine, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	base := []credits.Option{
		credits.WithLogger(logging.NewSlog(logger)),
		credits.WithCatalog(catalog),
		credits.WithHistoryCapacity(cfg.Ledger.HistoryCapacity),
		credits.WithHookTimeout(cfg.Ledger.HookTimeout),
	}
	if cfg.Ledger.StrictEventOrdering {
		base = append(base, credits.WithStrictEventOrdering())
	}

	eng := credits.New(st, append(base, opts...)...)
	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return eng, nil
}

// server bundles everything serve runs.
type server struct {
	engine   *credits.Engine
	registry *prometheus.Registry
	handler  http.Handler
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auditLog := logger.With().Str("component", "audit").Logger()
	audit := audithook.New(
		audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
			auditLog.Info().
				Str("action", ev.Action).
				Str("resource", ev.Resource).
				Str("resource_id", ev.ResourceID).
				Str("outcome", ev.Outcome).
				Str("severity", ev.Severity).
				Fields(ev.Metadata).
				Msg("audit")
			return nil
		}),
		audithook.WithLogger(logging.NewSlog(auditLog)),
	)

	eng, err := newEngine(ctx, cfg, logger,
		credits.WithPlugin(observability.NewMetricsExtension(prom.NewFactory(reg))),
		credits.WithPlugin(audit),
	)
	if err != nil {
		return nil, err
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithCORS(cfg.CORS.AllowedOrigins...),
		api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		api.WithHealthCheck(eng.Store().Ping),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		api.WithPortalURL(cfg.Stripe.PortalURL),
	}

	stripeOpts := []stripehook.Option{
		stripehook.WithLogger(logger.With().Str("component", "stripehook").Logger()),
	}
	if cfg.Stripe.SecretKey != "" {
		stripeOpts = append(stripeOpts, stripehook.WithPriceLookup(stripehook.NewAPIPrices(cfg.Stripe.SecretKey)))
		opts = append(opts, api.WithCheckout(
			stripehook.NewCheckoutSessions(cfg.Stripe.SecretKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL),
		))
	} else {
		logger.Warn().Msg("stripe.secret_key not set; checkout disabled")
	}
	opts = append(opts, api.WithStripeWebhook(stripehook.NewHandler(cfg.Stripe.WebhookSecret, eng, stripeOpts...)))

	if cfg.Clerk.WebhookSecret != "" {
		h, err := clerkhook.NewHandler(cfg.Clerk.WebhookSecret, eng, logger.With().Str("component", "clerkhook").Logger())
		if err != nil {
			_ = eng.Stop()
			return nil, fmt.Errorf("clerk webhook: %w", err)
		}
		opts = append(opts, api.WithClerkWebhook(h))
	} else {
		logger.Warn().Msg("clerk.webhook_secret not set; identity webhook disabled")
	}

	var verifier api.TokenVerifier
	if cfg.Auth.JWKSURL != "" {
		v, err := api.NewJWKSVerifier(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			_ = eng.Stop()
			return nil, fmt.Errorf("auth: %w", err)
		}
		verifier = v
	} else {
		logger.Warn().Msg("auth.jwks_url not set; authenticated routes will reject every request")
	}

	return &server{
		engine:   eng,
		registry: reg,
		handler:  api.NewServer(eng, verifier, opts...).Routes(),
	}, nil
}
