package stripehook

import (
	"bytes"
	"encoding/json"
)

// ref is a Stripe field that arrives either as an ID string or as the
// expanded object.
type ref struct {
	ID string
}

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

// lineItem covers checkout line items, invoice lines and subscription
// items, which all carry the price under one of these fields.
type lineItem struct {
	Price   ref `json:"price"`
	Plan    ref `json:"plan"`
	Pricing struct {
		PriceDetails struct {
			Price string `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

func (li lineItem) priceID() string {
	switch {
	case li.Price.ID != "":
		return li.Price.ID
	case li.Pricing.PriceDetails.Price != "":
		return li.Pricing.PriceDetails.Price
	default:
		return li.Plan.ID
	}
}

type lineItems struct {
	Data []lineItem `json:"data"`
}

// firstPriceID returns the price of the first line carrying one.
func (l lineItems) firstPriceID() string {
	for _, li := range l.Data {
		if id := li.priceID(); id != "" {
			return id
		}
	}
	return ""
}

// checkoutSession is the subset of checkout.session the reconciler needs.
type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          ref               `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	LineItems         lineItems         `json:"line_items"`
}

// externalID reads the application user ID attached when the checkout
// session was created.
func (s checkoutSession) externalID() string {
	for _, key := range MetadataUserIDKeys {
		if v := s.Metadata[key]; v != "" {
			return v
		}
	}
	return s.ClientReferenceID
}

type invoice struct {
	ID           string    `json:"id"`
	Customer     ref       `json:"customer"`
	Subscription ref       `json:"subscription"`
	Lines        lineItems `json:"lines"`

	SubscriptionDetails struct {
		Subscription string `json:"subscription"`
	} `json:"subscription_details"`
	Parent struct {
		SubscriptionDetails struct {
			Subscription ref `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID handles both the classic field and the newer parent
// details shape.
func (inv invoice) subscriptionID() string {
	switch {
	case inv.Parent.SubscriptionDetails.Subscription.ID != "":
		return inv.Parent.SubscriptionDetails.Subscription.ID
	case inv.SubscriptionDetails.Subscription != "":
		return inv.SubscriptionDetails.Subscription
	default:
		return inv.Subscription.ID
	}
}

type subscription struct {
	ID       string    `json:"id"`
	Customer ref       `json:"customer"`
	Items    lineItems `json:"items"`
}
