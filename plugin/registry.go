package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/user"
)

// DefaultHookTimeout bounds a single hook invocation.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches hooks to the
// subset implementing each one.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for dispatch
	onInit            []OnInit
	onShutdown        []OnShutdown
	onUserCreated     []OnUserCreated
	onProfileUpdated  []OnProfileUpdated
	onCreditsConsumed []OnCreditsConsumed
	onConsumeRejected []OnConsumeRejected
	onCreditsGranted  []OnCreditsGranted
	onBillingApplied  []OnBillingApplied
	onBillingRejected []OnBillingRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its hook interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnUserCreated); ok {
		r.onUserCreated = append(r.onUserCreated, v)
		hooks = append(hooks, "OnUserCreated")
	}
	if v, ok := p.(OnProfileUpdated); ok {
		r.onProfileUpdated = append(r.onProfileUpdated, v)
		hooks = append(hooks, "OnProfileUpdated")
	}
	if v, ok := p.(OnCreditsConsumed); ok {
		r.onCreditsConsumed = append(r.onCreditsConsumed, v)
		hooks = append(hooks, "OnCreditsConsumed")
	}
	if v, ok := p.(OnConsumeRejected); ok {
		r.onConsumeRejected = append(r.onConsumeRejected, v)
		hooks = append(hooks, "OnConsumeRejected")
	}
	if v, ok := p.(OnCreditsGranted); ok {
		r.onCreditsGranted = append(r.onCreditsGranted, v)
		hooks = append(hooks, "OnCreditsGranted")
	}
	if v, ok := p.(OnBillingApplied); ok {
		r.onBillingApplied = append(r.onBillingApplied, v)
		hooks = append(hooks, "OnBillingApplied")
	}
	if v, ok := p.(OnBillingRejected); ok {
		r.onBillingRejected = append(r.onBillingRejected, v)
		hooks = append(hooks, "OnBillingRejected")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()
	emit(ctx, r, "OnInit", plugins, func(p OnInit) error { return p.OnInit(ctx, engine) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()
	emit(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitUserCreated(ctx context.Context, u *user.User) {
	r.mu.RLock()
	plugins := r.onUserCreated
	r.mu.RUnlock()
	emit(ctx, r, "OnUserCreated", plugins, func(p OnUserCreated) error { return p.OnUserCreated(ctx, u) })
}

func (r *Registry) EmitProfileUpdated(ctx context.Context, u *user.User) {
	r.mu.RLock()
	plugins := r.onProfileUpdated
	r.mu.RUnlock()
	emit(ctx, r, "OnProfileUpdated", plugins, func(p OnProfileUpdated) error { return p.OnProfileUpdated(ctx, u) })
}

func (r *Registry) EmitCreditsConsumed(ctx context.Context, u *user.User, entry user.UsageEntry) {
	r.mu.RLock()
	plugins := r.onCreditsConsumed
	r.mu.RUnlock()
	emit(ctx, r, "OnCreditsConsumed", plugins, func(p OnCreditsConsumed) error {
		return p.OnCreditsConsumed(ctx, u, entry)
	})
}

func (r *Registry) EmitConsumeRejected(ctx context.Context, externalID string, amount int64, cause error) {
	r.mu.RLock()
	plugins := r.onConsumeRejected
	r.mu.RUnlock()
	emit(ctx, r, "OnConsumeRejected", plugins, func(p OnConsumeRejected) error {
		return p.OnConsumeRejected(ctx, externalID, amount, cause)
	})
}

func (r *Registry) EmitCreditsGranted(ctx context.Context, u *user.User, amount int64) {
	r.mu.RLock()
	plugins := r.onCreditsGranted
	r.mu.RUnlock()
	emit(ctx, r, "OnCreditsGranted", plugins, func(p OnCreditsGranted) error {
		return p.OnCreditsGranted(ctx, u, amount)
	})
}

func (r *Registry) EmitBillingApplied(ctx context.Context, ev billing.Event, u *user.User) {
	r.mu.RLock()
	plugins := r.onBillingApplied
	r.mu.RUnlock()
	emit(ctx, r, "OnBillingApplied", plugins, func(p OnBillingApplied) error {
		return p.OnBillingApplied(ctx, ev, u)
	})
}

func (r *Registry) EmitBillingRejected(ctx context.Context, ev billing.Event, cause error) {
	r.mu.RLock()
	plugins := r.onBillingRejected
	r.mu.RUnlock()
	emit(ctx, r, "OnBillingRejected", plugins, func(p OnBillingRejected) error {
		return p.OnBillingRejected(ctx, ev, cause)
	})
}

// emit runs fn for each plugin, logging failures. Hooks never fail the
// operation that triggered them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
