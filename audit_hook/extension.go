// Package audithook bridges credits lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import a
// particular audit system. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/user"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin            = (*Extension)(nil)
	_ plugin.OnUserCreated     = (*Extension)(nil)
	_ plugin.OnProfileUpdated  = (*Extension)(nil)
	_ plugin.OnCreditsConsumed = (*Extension)(nil)
	_ plugin.OnConsumeRejected = (*Extension)(nil)
	_ plugin.OnCreditsGranted  = (*Extension)(nil)
	_ plugin.OnBillingApplied  = (*Extension)(nil)
	_ plugin.OnBillingRejected = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credits lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Identity hooks
// ──────────────────────────────────────────────────

// OnUserCreated implements plugin.OnUserCreated.
func (e *Extension) OnUserCreated(ctx context.Context, u *user.User) error {
	return e.record(ctx, ActionUserCreated, SeverityInfo, OutcomeSuccess,
		ResourceUser, u.ExternalID, CategoryIdentity, nil,
		"user_id", u.ID.String(),
		"tier", string(u.Tier),
		"credits", u.Credits,
	)
}

// OnProfileUpdated implements plugin.OnProfileUpdated.
func (e *Extension) OnProfileUpdated(ctx context.Context, u *user.User) error {
	return e.record(ctx, ActionProfileUpdated, SeverityInfo, OutcomeSuccess,
		ResourceUser, u.ExternalID, CategoryIdentity, nil,
		"user_id", u.ID.String(),
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (e *Extension) OnCreditsConsumed(ctx context.Context, u *user.User, entry user.UsageEntry) error {
	return e.record(ctx, ActionCreditsConsumed, SeverityInfo, OutcomeSuccess,
		ResourceCredits, u.ExternalID, CategoryUsage, nil,
		"usage_id", entry.ID.String(),
		"category", entry.Category,
		"amount", entry.Amount,
		"balance", u.Credits,
	)
}

// OnConsumeRejected implements plugin.OnConsumeRejected.
func (e *Extension) OnConsumeRejected(ctx context.Context, externalID string, amount int64, err error) error {
	return e.record(ctx, ActionConsumeRejected, SeverityWarning, OutcomeFailure,
		ResourceCredits, externalID, CategoryUsage, err,
		"amount", amount,
	)
}

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (e *Extension) OnCreditsGranted(ctx context.Context, u *user.User, amount int64) error {
	return e.record(ctx, ActionCreditsGranted, SeverityInfo, OutcomeSuccess,
		ResourceCredits, u.ExternalID, CategoryUsage, nil,
		"amount", amount,
		"balance", u.Credits,
	)
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnBillingApplied implements plugin.OnBillingApplied.
func (e *Extension) OnBillingApplied(ctx context.Context, ev billing.Event, u *user.User) error {
	action, category, severity := ActionSubscriptionStarted, CategorySubscription, SeverityInfo
	switch ev.Kind() {
	case billing.KindInvoicePaid:
		action, category = ActionSubscriptionRenewed, CategoryPayment
	case billing.KindSubscriptionCanceled:
		action = ActionSubscriptionCanceled
	case billing.KindPaymentFailed:
		action, category, severity = ActionPaymentFailed, CategoryPayment, SeverityWarning
	}

	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceSubscription, u.ExternalID, category, nil,
		"provider_event_id", ev.Meta().ProviderEventID,
		"kind", string(ev.Kind()),
		"tier", string(u.Tier),
		"credits", u.Credits,
		"customer_ref", u.CustomerRef,
	)
}

// OnBillingRejected implements plugin.OnBillingRejected.
func (e *Extension) OnBillingRejected(ctx context.Context, ev billing.Event, err error) error {
	var kind, eventID string
	if ev != nil {
		kind = string(ev.Kind())
		eventID = ev.Meta().ProviderEventID
	}
	return e.record(ctx, ActionBillingRejected, SeverityError, OutcomeFailure,
		ResourceBillingEvent, eventID, CategoryIntegration, err,
		"kind", kind,
		"subject", billing.Subject(ev),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged, never returned, so auditing cannot fail an operation.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
