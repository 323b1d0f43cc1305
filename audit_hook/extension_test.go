package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits"
	audithook "github.com/DimensionCoin/credits/audit_hook"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/store/memory"
	"github.com/DimensionCoin/credits/user"
)

type trail struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (tr *trail) Record(_ context.Context, ev *audithook.AuditEvent) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, ev)
	return nil
}

func (tr *trail) actions() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, 0, len(tr.events))
	for _, ev := range tr.events {
		out = append(out, ev.Action)
	}
	return out
}

func newEngine(t *testing.T, hook *audithook.Extension) *credits.Engine {
	t.Helper()
	e := credits.New(memory.New(),
		credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		credits.WithCatalog(plan.MustCatalog(plan.Basic("price_basic"))),
		credits.WithPlugin(hook),
	)
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestAuditTrail(t *testing.T) {
	tr := &trail{}
	e := newEngine(t, audithook.New(tr))
	ctx := t.Context()

	_, err := e.EnsureUser(ctx, "user_1", user.Profile{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = e.Consume(ctx, "user_1", 3, user.UsageMeta{Category: "analysis"})
	require.NoError(t, err)
	_, err = e.Consume(ctx, "user_1", 100, user.UsageMeta{Category: "analysis"})
	require.Error(t, err)
	_, err = e.Grant(ctx, "user_1", 5)
	require.NoError(t, err)
	_, err = e.Apply(ctx, billing.CheckoutCompleted{
		Envelope:    billing.Envelope{ProviderEventID: "evt_1"},
		ExternalID:  "user_1",
		CustomerRef: "cus_1",
		PriceID:     "price_basic",
	})
	require.NoError(t, err)
	_, err = e.Apply(ctx, billing.SubscriptionCanceled{
		Envelope:    billing.Envelope{ProviderEventID: "evt_2"},
		CustomerRef: "cus_unknown",
	})
	require.Error(t, err)

	assert.Equal(t, []string{
		audithook.ActionUserCreated,
		audithook.ActionCreditsConsumed,
		audithook.ActionConsumeRejected,
		audithook.ActionCreditsGranted,
		audithook.ActionSubscriptionStarted,
		audithook.ActionBillingRejected,
	}, tr.actions())

	rejected := tr.events[2]
	assert.Equal(t, audithook.OutcomeFailure, rejected.Outcome)
	assert.Equal(t, "user_1", rejected.ResourceID)
	assert.EqualValues(t, 100, rejected.Metadata["amount"])

	started := tr.events[4]
	assert.Equal(t, "evt_1", started.Metadata["provider_event_id"])
	assert.Equal(t, "basic", started.Metadata["tier"])

	failed := tr.events[5]
	assert.Equal(t, audithook.SeverityError, failed.Severity)
	assert.Equal(t, "cus_unknown", failed.Metadata["subject"])
	assert.NotEmpty(t, failed.Reason)
}

func TestDisabledActions(t *testing.T) {
	tr := &trail{}
	e := newEngine(t, audithook.New(tr, audithook.WithDisabledActions(audithook.ActionCreditsConsumed)))

	_, err := e.EnsureUser(t.Context(), "user_1", user.Profile{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = e.Consume(t.Context(), "user_1", 1, user.UsageMeta{Category: "analysis"})
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionUserCreated}, tr.actions())
}

func TestEnabledActions(t *testing.T) {
	tr := &trail{}
	e := newEngine(t, audithook.New(tr, audithook.WithEnabledActions(audithook.ActionCreditsGranted)))

	_, err := e.EnsureUser(t.Context(), "user_1", user.Profile{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = e.Grant(t.Context(), "user_1", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionCreditsGranted}, tr.actions())
}

func TestRecorderFailureDoesNotFailOperation(t *testing.T) {
	rec := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("trail unavailable")
	})
	e := newEngine(t, audithook.New(rec, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))))

	u, err := e.EnsureUser(t.Context(), "user_1", user.Profile{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, user.DefaultCredits, u.Credits)
}
