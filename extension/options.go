package extension

import (
	"time"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a credits.Option through to the engine.
func WithEngineOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPlugin(p))
	}
}

// WithCatalog sets the plan catalog used to resolve billing prices.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithCatalog(c))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

func WithHistoryCapacity(n int) Option {
	return func(e *Extension) { e.config.HistoryCapacity = n }
}

func WithStrictEventOrdering() Option {
	return func(e *Extension) { e.config.StrictEventOrdering = true }
}

func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}
