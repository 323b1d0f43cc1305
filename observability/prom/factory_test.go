package prom_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/observability"
	"github.com/DimensionCoin/credits/observability/prom"
)

func TestMetricName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"credits.consumed", "credits_consumed"},
		{"credits.billing.invoice_paid", "credits_billing_invoice_paid"},
		{"9lives", "_9lives"},
		{"a-b c", "a_b_c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prom.MetricName(tt.in), tt.in)
	}
}

func TestFactoryCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := prom.NewFactory(reg)

	c := f.Counter("credits.consumed")
	c.Inc()
	c.Add(4)

	// Same name, same collector; a second registration would panic.
	f.Counter("credits.consumed").Inc()

	expected := `
# HELP credits_consumed_total Count of credits.consumed.
# TYPE credits_consumed_total counter
credits_consumed_total 6
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "credits_consumed_total"))
}

func TestFactoryHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := prom.NewFactory(reg)

	h := f.Histogram("credits.consume.amount")
	h.Observe(3)
	h.Observe(150)

	n, err := testutil.GatherAndCount(reg, "credits_consume_amount")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetricsExtensionRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := observability.NewMetricsExtension(prom.NewFactory(reg))
	ext.CreditsGranted.Add(200)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, 200.0, testutil.ToFloat64(ext.CreditsGranted.(prometheus.Counter)))
}
