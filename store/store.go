// Package store defines the persistence contract shared by every backend.
package store

import (
	"context"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/user"
)

// Store is the unified storage interface. Implementations must enforce
// uniqueness of external ID and email at the storage layer and perform each
// user mutation as one atomic conditional write.
type Store interface {
	user.Store
	billing.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
