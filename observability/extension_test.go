package observability_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/observability"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/store/memory"
	"github.com/DimensionCoin/credits/user"
)

type metric struct {
	mu     sync.Mutex
	total  float64
	values []float64
}

func (m *metric) Inc() { m.Add(1) }

func (m *metric) Add(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += v
}

func (m *metric) Observe(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = append(m.values, v)
}

type factory map[string]*metric

func (f factory) get(name string) *metric {
	if m, ok := f[name]; ok {
		return m
	}
	m := &metric{}
	f[name] = m
	return m
}

func (f factory) Counter(name string) observability.Counter     { return f.get(name) }
func (f factory) Histogram(name string) observability.Histogram { return f.get(name) }

func TestMetricsExtension(t *testing.T) {
	f := factory{}
	e := credits.New(memory.New(),
		credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		credits.WithCatalog(plan.MustCatalog(plan.Basic("price_basic"))),
		credits.WithPlugin(observability.NewMetricsExtension(f)),
	)
	ctx := t.Context()
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.EnsureUser(ctx, "user_1", user.Profile{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = e.Consume(ctx, "user_1", 3, user.UsageMeta{Category: "analysis"})
	require.NoError(t, err)
	_, err = e.Consume(ctx, "user_1", 2, user.UsageMeta{Category: "analysis"})
	require.NoError(t, err)
	_, err = e.Consume(ctx, "user_1", 50, user.UsageMeta{Category: "analysis"})
	require.Error(t, err)
	_, err = e.Grant(ctx, "user_1", 7)
	require.NoError(t, err)

	_, err = e.Apply(ctx, billing.CheckoutCompleted{ExternalID: "user_1", CustomerRef: "cus_1", PriceID: "price_basic"})
	require.NoError(t, err)
	_, err = e.Apply(ctx, billing.PaymentFailed{CustomerRef: "cus_1"})
	require.NoError(t, err)
	_, err = e.Apply(ctx, billing.InvoicePaid{CustomerRef: "cus_1", PriceID: "price_unknown"})
	require.Error(t, err)

	assert.Equal(t, 1.0, f["credits.users.created"].total)
	assert.Equal(t, 2.0, f["credits.consume.succeeded"].total)
	assert.Equal(t, 5.0, f["credits.consumed"].total)
	assert.Equal(t, []float64{3, 2}, f["credits.consume.amount"].values)
	assert.Equal(t, 1.0, f["credits.consume.rejected"].total)
	assert.Equal(t, 7.0, f["credits.granted"].total)
	assert.Equal(t, 1.0, f["credits.billing.checkout_completed"].total)
	assert.Equal(t, 1.0, f["credits.billing.payment_failed"].total)
	assert.Equal(t, 0.0, f["credits.billing.invoice_paid"].total)
	assert.Equal(t, 1.0, f["credits.billing.rejected"].total)
}
