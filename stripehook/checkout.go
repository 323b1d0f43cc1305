package stripehook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/DimensionCoin/credits/billing"
)

var _ billing.CheckoutStarter = (*CheckoutSessions)(nil)

// CheckoutSessions creates subscription checkout sessions through the
// Stripe API.
type CheckoutSessions struct {
	sessions   stripesession.Client
	successURL string
	cancelURL  string
}

// CheckoutOption configures CheckoutSessions.
type CheckoutOption func(*CheckoutSessions)

// WithBackend replaces the Stripe API backend.
func WithBackend(b stripe.Backend) CheckoutOption {
	return func(c *CheckoutSessions) { c.sessions.B = b }
}

// NewCheckoutSessions returns a session creator authenticated with
// secretKey. successURL may carry Stripe's {CHECKOUT_SESSION_ID}
// placeholder.
func NewCheckoutSessions(secretKey, successURL, cancelURL string, opts ...CheckoutOption) *CheckoutSessions {
	c := &CheckoutSessions{
		sessions:   stripesession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		successURL: successURL,
		cancelURL:  cancelURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCheckoutSession starts a one-seat subscription to req.PriceID. The
// session and the subscription both carry the user ID under the first
// MetadataUserIDKeys key, and client_reference_id repeats it.
func (c *CheckoutSessions) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	if strings.TrimSpace(req.ExternalID) == "" {
		return "", errors.New("checkout: external id is required")
	}
	if strings.TrimSpace(req.PriceID) == "" {
		return "", errors.New("checkout: price id is required")
	}

	meta := map[string]string{MetadataUserIDKeys[0]: req.ExternalID}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(req.ExternalID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: meta,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	// Returning subscribers reuse their customer.
	switch {
	case req.CustomerRef != "":
		params.Customer = stripe.String(req.CustomerRef)
	case req.Email != "":
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := c.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return "", errors.New("create checkout session: no url returned")
	}
	return sess.URL, nil
}
