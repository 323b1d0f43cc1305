// Package extension provides the Forge extension adapter for the credits
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid credits ledger with subscription reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credits engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credits.Engine
	store      store.Store
	engineOpts []credits.Option
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = credits.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*credits.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts turns the resolved config into engine options. Pass-through
// options come last so they win.
func (e *Extension) buildEngineOpts() []credits.Option {
	opts := make([]credits.Option, 0, len(e.engineOpts)+3)

	if e.config.HistoryCapacity > 0 {
		opts = append(opts, credits.WithHistoryCapacity(e.config.HistoryCapacity))
	}
	if e.config.StrictEventOrdering {
		opts = append(opts, credits.WithStrictEventOrdering())
	}
	if e.config.HookTimeout > 0 {
		opts = append(opts, credits.WithHookTimeout(e.config.HookTimeout))
	}

	return append(opts, e.engineOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("history_capacity", e.config.HistoryCapacity),
		forge.F("strict_event_ordering", e.config.StrictEventOrdering),
		forge.F("hook_timeout", e.config.HookTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.credits", "credits"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = defaults.HistoryCapacity
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML wins for valued fields; programmatic bool flags and values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.StrictEventOrdering {
		yamlConfig.StrictEventOrdering = true
	}
	if yamlConfig.HistoryCapacity == 0 && programmaticConfig.HistoryCapacity != 0 {
		yamlConfig.HistoryCapacity = programmaticConfig.HistoryCapacity
	}
	if yamlConfig.HookTimeout == 0 && programmaticConfig.HookTimeout != 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}
	return mergeWithDefaults(yamlConfig)
}
