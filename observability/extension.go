// Package observability provides a metrics extension for the credits
// engine that records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/user"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin            = (*MetricsExtension)(nil)
	_ plugin.OnInit            = (*MetricsExtension)(nil)
	_ plugin.OnUserCreated     = (*MetricsExtension)(nil)
	_ plugin.OnProfileUpdated  = (*MetricsExtension)(nil)
	_ plugin.OnCreditsConsumed = (*MetricsExtension)(nil)
	_ plugin.OnConsumeRejected = (*MetricsExtension)(nil)
	_ plugin.OnCreditsGranted  = (*MetricsExtension)(nil)
	_ plugin.OnBillingApplied  = (*MetricsExtension)(nil)
	_ plugin.OnBillingRejected = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to track identity, usage and billing.
type MetricsExtension struct {
	factory MetricFactory

	// Identity metrics
	UsersCreated    Counter
	ProfilesUpdated Counter

	// Ledger metrics
	ConsumeSucceeded Counter
	ConsumeRejected  Counter
	CreditsConsumed  Counter
	ConsumeAmount    Histogram
	CreditsGranted   Counter

	// Billing metrics
	CheckoutsCompleted    Counter
	InvoicesPaid          Counter
	SubscriptionsCanceled Counter
	PaymentsFailed        Counter
	BillingRejected       Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		UsersCreated:    factory.Counter("credits.users.created"),
		ProfilesUpdated: factory.Counter("credits.users.profile_updated"),

		ConsumeSucceeded: factory.Counter("credits.consume.succeeded"),
		ConsumeRejected:  factory.Counter("credits.consume.rejected"),
		CreditsConsumed:  factory.Counter("credits.consumed"),
		ConsumeAmount:    factory.Histogram("credits.consume.amount"),
		CreditsGranted:   factory.Counter("credits.granted"),

		CheckoutsCompleted:    factory.Counter("credits.billing.checkout_completed"),
		InvoicesPaid:          factory.Counter("credits.billing.invoice_paid"),
		SubscriptionsCanceled: factory.Counter("credits.billing.subscription_canceled"),
		PaymentsFailed:        factory.Counter("credits.billing.payment_failed"),
		BillingRejected:       factory.Counter("credits.billing.rejected"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Identity hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnUserCreated(_ context.Context, _ *user.User) error {
	m.UsersCreated.Inc()
	return nil
}

func (m *MetricsExtension) OnProfileUpdated(_ context.Context, _ *user.User) error {
	m.ProfilesUpdated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (m *MetricsExtension) OnCreditsConsumed(_ context.Context, _ *user.User, entry user.UsageEntry) error {
	m.ConsumeSucceeded.Inc()
	m.CreditsConsumed.Add(float64(entry.Amount))
	m.ConsumeAmount.Observe(float64(entry.Amount))
	return nil
}

// OnConsumeRejected implements plugin.OnConsumeRejected.
func (m *MetricsExtension) OnConsumeRejected(_ context.Context, _ string, _ int64, _ error) error {
	m.ConsumeRejected.Inc()
	return nil
}

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (m *MetricsExtension) OnCreditsGranted(_ context.Context, _ *user.User, amount int64) error {
	m.CreditsGranted.Add(float64(amount))
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnBillingApplied implements plugin.OnBillingApplied.
func (m *MetricsExtension) OnBillingApplied(_ context.Context, ev billing.Event, _ *user.User) error {
	switch ev.Kind() {
	case billing.KindCheckoutCompleted:
		m.CheckoutsCompleted.Inc()
	case billing.KindInvoicePaid:
		m.InvoicesPaid.Inc()
	case billing.KindSubscriptionCanceled:
		m.SubscriptionsCanceled.Inc()
	case billing.KindPaymentFailed:
		m.PaymentsFailed.Inc()
	}
	return nil
}

// OnBillingRejected implements plugin.OnBillingRejected.
func (m *MetricsExtension) OnBillingRejected(_ context.Context, _ billing.Event, _ error) error {
	m.BillingRejected.Inc()
	return nil
}
