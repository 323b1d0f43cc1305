package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/types"
	"github.com/DimensionCoin/credits/user"
)

// ──────────────────────────────────────────────────
// Billing reconciliation
// ──────────────────────────────────────────────────

// Apply reconciles one billing event into the matching user record. Every
// variant performs absolute assignments, so redelivery of an event leaves
// the record as the first delivery did. Events carrying a provider event ID
// that was already applied are not re-applied; the current record is
// returned instead.
func (e *Engine) Apply(ctx context.Context, ev billing.Event) (*user.User, error) {
	if ev == nil {
		return nil, ErrInvalidEvent
	}

	meta := ev.Meta()
	if meta.ProviderEventID != "" {
		rec, err := e.store.GetEventRecord(ctx, meta.ProviderEventID)
		switch {
		case err == nil && rec.Outcome == billing.OutcomeApplied:
			e.logger.Debug("billing event already applied",
				"event_id", meta.ProviderEventID,
				"kind", ev.Kind(),
			)
			return e.subjectOf(ctx, ev)
		case err != nil && !errors.Is(err, ErrEventNotFound):
			return nil, err
		}
	}

	u, err := e.apply(ctx, ev)
	e.recordOutcome(ctx, ev, err)

	if err != nil {
		e.logger.Warn("billing event rejected",
			"kind", ev.Kind(),
			"event_id", meta.ProviderEventID,
			"subject", billing.Subject(ev),
			"error", err,
		)
		e.plugins.EmitBillingRejected(ctx, ev, err)
		return nil, err
	}

	e.logger.Info("billing event applied",
		"kind", ev.Kind(),
		"event_id", meta.ProviderEventID,
		"external_id", u.ExternalID,
		"tier", u.Tier,
		"credits", u.Credits,
	)
	e.plugins.EmitBillingApplied(ctx, ev, u)

	return u, nil
}

// HandleCheckoutCompleted links the customer to the user named in the
// checkout correlation metadata and sets the purchased tier and allotment.
func (e *Engine) HandleCheckoutCompleted(ctx context.Context, ev billing.CheckoutCompleted) (*user.User, error) {
	return e.Apply(ctx, ev)
}

// HandleInvoicePaid resets the customer's balance to the plan allotment.
// Unused credits do not roll over.
func (e *Engine) HandleInvoicePaid(ctx context.Context, ev billing.InvoicePaid) (*user.User, error) {
	return e.Apply(ctx, ev)
}

// HandleSubscriptionCanceled downgrades the customer to the free tier with
// the default allotment.
func (e *Engine) HandleSubscriptionCanceled(ctx context.Context, ev billing.SubscriptionCanceled) (*user.User, error) {
	return e.Apply(ctx, ev)
}

// HandlePaymentFailed downgrades the customer to the free tier and leaves
// the balance as is.
func (e *Engine) HandlePaymentFailed(ctx context.Context, ev billing.PaymentFailed) (*user.User, error) {
	return e.Apply(ctx, ev)
}

func (e *Engine) apply(ctx context.Context, ev billing.Event) (*user.User, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	switch v := ev.(type) {
	case billing.CheckoutCompleted:
		p, err := e.resolve(v.PriceID)
		if err != nil {
			return nil, err
		}
		return e.applyBilling(ctx, ev, user.ByExternalID(v.ExternalID), user.BillingUpdate{
			Tier:        p.Tier,
			Credits:     ptr(p.Credits),
			CustomerRef: v.CustomerRef,
		})

	case billing.InvoicePaid:
		p, err := e.resolve(v.PriceID)
		if err != nil {
			return nil, err
		}
		return e.applyBilling(ctx, ev, user.ByCustomerRef(v.CustomerRef), user.BillingUpdate{
			Tier:    p.Tier,
			Credits: ptr(p.Credits),
		})

	case billing.SubscriptionCanceled:
		free := e.catalog.Free()
		return e.applyBilling(ctx, ev, user.ByCustomerRef(v.CustomerRef), user.BillingUpdate{
			Tier:    free.Tier,
			Credits: ptr(free.Credits),
		})

	case billing.PaymentFailed:
		return e.applyBilling(ctx, ev, user.ByCustomerRef(v.CustomerRef), user.BillingUpdate{
			Tier: e.catalog.Free().Tier,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, ev.Kind())
	}
}

func (e *Engine) applyBilling(ctx context.Context, ev billing.Event, sel user.Selector, upd user.BillingUpdate) (*user.User, error) {
	upd.EventAt = ev.Meta().OccurredAt
	upd.Ordered = e.strictOrdering && !upd.EventAt.IsZero()
	return e.store.ApplyBilling(ctx, sel, upd)
}

func (e *Engine) resolve(priceID string) (plan.Plan, error) {
	p, ok := e.catalog.Resolve(priceID)
	if !ok {
		return plan.Plan{}, fmt.Errorf("%w: price %q", ErrUnknownPlan, priceID)
	}
	return p, nil
}

// subjectOf returns the record an event addresses without changing it.
func (e *Engine) subjectOf(ctx context.Context, ev billing.Event) (*user.User, error) {
	if v, ok := ev.(billing.CheckoutCompleted); ok {
		return e.store.GetUser(ctx, v.ExternalID)
	}
	return e.store.GetUserByCustomerRef(ctx, billing.Subject(ev))
}

func (e *Engine) recordOutcome(ctx context.Context, ev billing.Event, applyErr error) {
	meta := ev.Meta()
	if meta.ProviderEventID == "" {
		return
	}

	rec := &billing.Record{
		ID:              id.NewBillingEventID(),
		ProviderEventID: meta.ProviderEventID,
		Kind:            ev.Kind(),
		Subject:         billing.Subject(ev),
		Outcome:         billing.OutcomeApplied,
		OccurredAt:      meta.OccurredAt,
		ProcessedAt:     types.Now(),
	}
	switch {
	case errors.Is(applyErr, ErrStaleEvent):
		rec.Outcome = billing.OutcomeStale
		rec.Reason = applyErr.Error()
	case applyErr != nil:
		rec.Outcome = billing.OutcomeRejected
		rec.Reason = applyErr.Error()
	}

	if err := e.store.RecordEvent(ctx, rec); err != nil {
		e.logger.Warn("failed to record billing event",
			"event_id", meta.ProviderEventID,
			"error", err,
		)
	}
}

// validateEvent maps variant validation failures onto engine sentinels.
func validateEvent(ev billing.Event) error {
	err := ev.Validate()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, billing.ErrMissingCorrelation):
		return fmt.Errorf("%w: %w", ErrMissingCorrelation, err)
	case errors.Is(err, billing.ErrMissingPrice):
		return fmt.Errorf("%w: %w", ErrUnknownPlan, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
}

func ptr[T any](v T) *T { return &v }
