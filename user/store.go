package user

import (
	"context"
	"time"
)

// Selector addresses a single record either by external identity or by
// billing customer reference. Exactly one field is set.
type Selector struct {
	ExternalID  string
	CustomerRef string
}

// ByExternalID selects a record by its identity-provider ID.
func ByExternalID(externalID string) Selector { return Selector{ExternalID: externalID} }

// ByCustomerRef selects a record by its billing customer reference.
func ByCustomerRef(ref string) Selector { return Selector{CustomerRef: ref} }

// BillingUpdate is an absolute assignment applied by the reconciler.
// Credits is set, never incremented; nil leaves the balance untouched.
type BillingUpdate struct {
	Tier        Tier
	Credits     *int64
	CustomerRef string // assigned when non-empty
	EventAt     time.Time
	// Ordered rejects the update when the record has already applied a
	// billing event newer than EventAt.
	Ordered bool
}

// Store persists user records. Every mutation is a single atomic
// conditional operation that returns the post-update record.
type Store interface {
	// CreateUser inserts u unless a record with the same ExternalID exists.
	// It returns the stored record and whether this call created it.
	CreateUser(ctx context.Context, u *User) (*User, bool, error)
	GetUser(ctx context.Context, externalID string) (*User, error)
	GetUserByCustomerRef(ctx context.Context, ref string) (*User, error)

	// ConsumeCredits debits entry.Amount only if the balance covers it and
	// prepends entry to the history, keeping at most historyLimit entries.
	ConsumeCredits(ctx context.Context, externalID string, entry UsageEntry, historyLimit int) (*User, error)
	AddCredits(ctx context.Context, externalID string, amount int64) (*User, error)
	ApplyBilling(ctx context.Context, sel Selector, upd BillingUpdate) (*User, error)

	SetTopSelections(ctx context.Context, externalID string, selections []string) (*User, error)
	UpdateProfile(ctx context.Context, externalID string, upd ProfileUpdate) (*User, error)
}
