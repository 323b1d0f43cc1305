package extension

import (
	"time"

	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/user"
)

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// HistoryCapacity bounds each user's usage history (default: 50).
	HistoryCapacity int `json:"history_capacity" mapstructure:"history_capacity" yaml:"history_capacity"`

	// StrictEventOrdering rejects billing events older than the last one
	// applied to the same user.
	StrictEventOrdering bool `json:"strict_event_ordering" mapstructure:"strict_event_ordering" yaml:"strict_event_ordering"`

	// HookTimeout bounds a single plugin hook call (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: user.HistoryCapacity,
		HookTimeout:     plugin.DefaultHookTimeout,
	}
}
