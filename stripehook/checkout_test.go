package stripehook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/stripehook"
)

// stripeStub answers POST /v1/checkout/sessions and keeps the last form.
type stripeStub struct {
	mu     sync.Mutex
	form   url.Values
	status int
}

func (s *stripeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseForm()

	s.mu.Lock()
	s.form = r.PostForm
	status := s.status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
}

func (s *stripeStub) lastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

func newCheckout(t *testing.T, stub *stripeStub) *stripehook.CheckoutSessions {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return stripehook.NewCheckoutSessions("sk_test_123",
		"https://app.example.com/payments/success?session_id={CHECKOUT_SESSION_ID}",
		"https://app.example.com/payments/cancel",
		stripehook.WithBackend(backend),
	)
}

func TestCreateCheckoutSessionStampsUser(t *testing.T) {
	stub := &stripeStub{}
	c := newCheckout(t, stub)

	got, err := c.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{
		ExternalID: "user_1",
		Email:      "ada@example.com",
		PriceID:    basicPrice,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", got)

	form := stub.lastForm()
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "user_1", form.Get("metadata[userId]"))
	assert.Equal(t, "user_1", form.Get("subscription_data[metadata][userId]"))
	assert.Equal(t, "user_1", form.Get("client_reference_id"))
	assert.Equal(t, basicPrice, form.Get("line_items[0][price]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "ada@example.com", form.Get("customer_email"))
	assert.Empty(t, form.Get("customer"))
	assert.Equal(t, "https://app.example.com/payments/cancel", form.Get("cancel_url"))
}

func TestCreateCheckoutSessionReusesCustomer(t *testing.T) {
	stub := &stripeStub{}
	c := newCheckout(t, stub)

	_, err := c.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{
		ExternalID:  "user_1",
		Email:       "ada@example.com",
		CustomerRef: "cus_1",
		PriceID:     basicPrice,
	})
	require.NoError(t, err)

	form := stub.lastForm()
	assert.Equal(t, "cus_1", form.Get("customer"))
	assert.Empty(t, form.Get("customer_email"))
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	stub := &stripeStub{status: http.StatusBadRequest}
	c := newCheckout(t, stub)

	_, err := c.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{ExternalID: "user_1", PriceID: "price_gone"})
	assert.ErrorContains(t, err, "create checkout session")

	_, err = c.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{PriceID: basicPrice})
	assert.Error(t, err)
	_, err = c.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{ExternalID: "user_1"})
	assert.Error(t, err)
}
