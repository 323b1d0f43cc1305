package billing

import (
	"context"
	"time"

	"github.com/DimensionCoin/credits/id"
)

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeStale    Outcome = "stale"
)

// Record is the processing log entry for one provider event.
type Record struct {
	ID              id.BillingEventID `json:"id"`
	ProviderEventID string            `json:"provider_event_id"`
	Kind            Kind              `json:"kind"`
	Subject         string            `json:"subject"`
	Outcome         Outcome           `json:"outcome"`
	Reason          string            `json:"reason,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
	ProcessedAt     time.Time         `json:"processed_at"`
}

// Store keeps the processing log keyed by ProviderEventID.
type Store interface {
	// RecordEvent inserts r or overwrites the outcome of an existing record
	// with the same ProviderEventID.
	RecordEvent(ctx context.Context, r *Record) error
	GetEventRecord(ctx context.Context, providerEventID string) (*Record, error)
}
