package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DimensionCoin/credits/billing"
)

func TestValidate(t *testing.T) {
	env := billing.Envelope{ProviderEventID: "evt_1", OccurredAt: time.Now()}

	tests := []struct {
		name    string
		event   billing.Event
		wantErr error
	}{
		{"checkout ok", billing.CheckoutCompleted{Envelope: env, ExternalID: "u1", CustomerRef: "cus_1", PriceID: "price_1"}, nil},
		{"checkout no user", billing.CheckoutCompleted{Envelope: env, CustomerRef: "cus_1", PriceID: "price_1"}, billing.ErrMissingCorrelation},
		{"checkout no customer", billing.CheckoutCompleted{Envelope: env, ExternalID: "u1", PriceID: "price_1"}, billing.ErrMissingCorrelation},
		{"checkout no price", billing.CheckoutCompleted{Envelope: env, ExternalID: "u1", CustomerRef: "cus_1"}, billing.ErrMissingPrice},
		{"invoice ok", billing.InvoicePaid{CustomerRef: "cus_1", PriceID: "price_1"}, nil},
		{"invoice no customer", billing.InvoicePaid{PriceID: "price_1"}, billing.ErrMissingCorrelation},
		{"invoice no price", billing.InvoicePaid{CustomerRef: "cus_1"}, billing.ErrMissingPrice},
		{"canceled ok", billing.SubscriptionCanceled{CustomerRef: "cus_1"}, nil},
		{"canceled no customer", billing.SubscriptionCanceled{}, billing.ErrMissingCorrelation},
		{"failed ok", billing.PaymentFailed{CustomerRef: "cus_1"}, nil},
		{"failed no customer", billing.PaymentFailed{}, billing.ErrMissingCorrelation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "u1", billing.Subject(billing.CheckoutCompleted{ExternalID: "u1", CustomerRef: "cus_1"}))
	assert.Equal(t, "cus_2", billing.Subject(billing.InvoicePaid{CustomerRef: "cus_2"}))
	assert.Equal(t, "cus_3", billing.Subject(billing.SubscriptionCanceled{CustomerRef: "cus_3"}))
	assert.Equal(t, "cus_4", billing.Subject(billing.PaymentFailed{CustomerRef: "cus_4"}))
}

func TestMeta(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var ev billing.Event = billing.PaymentFailed{
		Envelope:    billing.Envelope{ProviderEventID: "evt_9", OccurredAt: at},
		CustomerRef: "cus_1",
	}

	assert.Equal(t, "evt_9", ev.Meta().ProviderEventID)
	assert.Equal(t, at, ev.Meta().OccurredAt)
	assert.Equal(t, billing.KindPaymentFailed, ev.Kind())
}
