package credits

import (
	"context"
	"log/slog"
	"time"

	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/user"
)

// Engine owns the credits ledger, the identity bridge and the billing
// reconciler. It keeps no per-user state; every operation addresses its
// record explicitly and is safe for concurrent use.
type Engine struct {
	store   store.Store
	catalog *plan.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger

	historyLimit   int
	strictOrdering bool
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		catalog:      plan.MustCatalog(),
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		historyLimit: user.HistoryCapacity,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog sets the price-to-plan table used by the reconciler.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithHistoryCapacity lowers how many usage entries a record keeps. Values
// above user.HistoryCapacity are clamped to it.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = min(n, user.HistoryCapacity)
		}
	}
}

// WithStrictEventOrdering makes the reconciler reject billing events older
// than the last one applied to the same record with ErrStaleEvent. Without
// it the last delivered event wins.
func WithStrictEventOrdering() Option {
	return func(e *Engine) {
		e.strictOrdering = true
	}
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// Start prepares the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("credits engine started",
		"plans", e.catalog.Len(),
		"history_capacity", e.historyLimit,
		"strict_event_ordering", e.strictOrdering,
	)

	return nil
}

// Stop notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Catalog returns the plan catalog.
func (e *Engine) Catalog() *plan.Catalog { return e.catalog }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }
