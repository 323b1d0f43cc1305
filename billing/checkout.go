package billing

import "context"

// CheckoutRequest asks the billing provider for a hosted subscription
// checkout. ExternalID is stamped on the session so the resulting
// CheckoutCompleted event can be correlated back to the record.
type CheckoutRequest struct {
	ExternalID  string
	Email       string
	CustomerRef string
	PriceID     string
}

// CheckoutStarter creates hosted checkout sessions and returns the URL the
// customer is sent to.
type CheckoutStarter interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}
