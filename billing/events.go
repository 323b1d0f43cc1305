// Package billing defines the billing provider notifications the reconciler
// understands, as a closed set of validated variants.
package billing

import (
	"errors"
	"fmt"
	"time"
)

// Kind names an event variant.
type Kind string

const (
	KindCheckoutCompleted    Kind = "checkout_completed"
	KindInvoicePaid          Kind = "invoice_paid"
	KindSubscriptionCanceled Kind = "subscription_canceled"
	KindPaymentFailed        Kind = "payment_failed"
)

var (
	ErrMissingCorrelation = errors.New("billing: missing correlation identifier")
	ErrMissingPrice       = errors.New("billing: missing price identifier")
)

// Event is one of CheckoutCompleted, InvoicePaid, SubscriptionCanceled or
// PaymentFailed. The set is closed.
type Event interface {
	Kind() Kind
	Meta() Envelope
	Validate() error
	sealed()
}

// Envelope carries provider delivery metadata shared by all variants.
type Envelope struct {
	// ProviderEventID is the provider's unique delivery ID. Optional.
	ProviderEventID string
	// OccurredAt is when the provider created the event.
	OccurredAt time.Time
}

// Meta returns the delivery metadata.
func (e Envelope) Meta() Envelope { return e }

// CheckoutCompleted is correlated through ExternalID, which the checkout
// session carried as metadata.
type CheckoutCompleted struct {
	Envelope
	ExternalID  string
	CustomerRef string
	PriceID     string
}

// InvoicePaid renews or changes a subscription period.
type InvoicePaid struct {
	Envelope
	CustomerRef string
	PriceID     string
}

type SubscriptionCanceled struct {
	Envelope
	CustomerRef string
}

type PaymentFailed struct {
	Envelope
	CustomerRef string
}

func (CheckoutCompleted) Kind() Kind    { return KindCheckoutCompleted }
func (InvoicePaid) Kind() Kind          { return KindInvoicePaid }
func (SubscriptionCanceled) Kind() Kind { return KindSubscriptionCanceled }
func (PaymentFailed) Kind() Kind        { return KindPaymentFailed }

func (CheckoutCompleted) sealed()    {}
func (InvoicePaid) sealed()          {}
func (SubscriptionCanceled) sealed() {}
func (PaymentFailed) sealed()        {}

func (e CheckoutCompleted) Validate() error {
	if e.ExternalID == "" {
		return fmt.Errorf("%s: user id: %w", e.Kind(), ErrMissingCorrelation)
	}
	if e.CustomerRef == "" {
		return fmt.Errorf("%s: customer: %w", e.Kind(), ErrMissingCorrelation)
	}
	if e.PriceID == "" {
		return fmt.Errorf("%s: %w", e.Kind(), ErrMissingPrice)
	}
	return nil
}

func (e InvoicePaid) Validate() error {
	if e.CustomerRef == "" {
		return fmt.Errorf("%s: customer: %w", e.Kind(), ErrMissingCorrelation)
	}
	if e.PriceID == "" {
		return fmt.Errorf("%s: %w", e.Kind(), ErrMissingPrice)
	}
	return nil
}

func (e SubscriptionCanceled) Validate() error {
	if e.CustomerRef == "" {
		return fmt.Errorf("%s: customer: %w", e.Kind(), ErrMissingCorrelation)
	}
	return nil
}

func (e PaymentFailed) Validate() error {
	if e.CustomerRef == "" {
		return fmt.Errorf("%s: customer: %w", e.Kind(), ErrMissingCorrelation)
	}
	return nil
}

// Subject returns the identifier the event is matched on.
func Subject(e Event) string {
	switch ev := e.(type) {
	case CheckoutCompleted:
		return ev.ExternalID
	case InvoicePaid:
		return ev.CustomerRef
	case SubscriptionCanceled:
		return ev.CustomerRef
	case PaymentFailed:
		return ev.CustomerRef
	default:
		return ""
	}
}
