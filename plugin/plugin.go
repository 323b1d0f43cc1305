// Package plugin provides lifecycle hooks around the credits engine.
// A plugin implements Plugin plus any subset of the hook interfaces; the
// registry discovers them by type assertion at registration.
package plugin

import (
	"context"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/user"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *credits.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Identity hooks
// ──────────────────────────────────────────────────

// OnUserCreated is called once per identity, by the call that created it.
type OnUserCreated interface {
	Plugin
	OnUserCreated(ctx context.Context, u *user.User) error
}

type OnProfileUpdated interface {
	Plugin
	OnProfileUpdated(ctx context.Context, u *user.User) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

type OnCreditsConsumed interface {
	Plugin
	OnCreditsConsumed(ctx context.Context, u *user.User, entry user.UsageEntry) error
}

// OnConsumeRejected is called when a debit fails its balance precondition.
type OnConsumeRejected interface {
	Plugin
	OnConsumeRejected(ctx context.Context, externalID string, amount int64, err error) error
}

type OnCreditsGranted interface {
	Plugin
	OnCreditsGranted(ctx context.Context, u *user.User, amount int64) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

type OnBillingApplied interface {
	Plugin
	OnBillingApplied(ctx context.Context, ev billing.Event, u *user.User) error
}

// OnBillingRejected is called when an event fails validation, resolution,
// matching or the ordering guard.
type OnBillingRejected interface {
	Plugin
	OnBillingRejected(ctx context.Context, ev billing.Event, err error) error
}
