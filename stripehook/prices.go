package stripehook

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
)

// PriceLookup fetches price IDs that a webhook payload does not carry.
type PriceLookup interface {
	CheckoutPriceID(ctx context.Context, sessionID string) (string, error)
	SubscriptionPriceID(ctx context.Context, subscriptionID string) (string, error)
}

// APIPrices resolves prices through the Stripe API with line items
// expanded.
type APIPrices struct {
	sessions stripesession.Client
	subs     stripesub.Client
}

// NewAPIPrices returns a PriceLookup authenticated with secretKey.
func NewAPIPrices(secretKey string) *APIPrices {
	backend := stripe.GetBackend(stripe.APIBackend)
	return &APIPrices{
		sessions: stripesession.Client{B: backend, Key: secretKey},
		subs:     stripesub.Client{B: backend, Key: secretKey},
	}
}

func (p *APIPrices) CheckoutPriceID(ctx context.Context, sessionID string) (string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items.data.price")

	s, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	if s.LineItems == nil {
		return "", nil
	}
	for _, li := range s.LineItems.Data {
		if li != nil && li.Price != nil && li.Price.ID != "" {
			return li.Price.ID, nil
		}
	}
	return "", nil
}

func (p *APIPrices) SubscriptionPriceID(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")

	sub, err := p.subs.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	if sub.Items == nil {
		return "", nil
	}
	for _, item := range sub.Items.Data {
		switch {
		case item == nil:
		case item.Price != nil && item.Price.ID != "":
			return item.Price.ID, nil
		case item.Plan != nil && item.Plan.ID != "":
			return item.Plan.ID, nil
		}
	}
	return "", nil
}
