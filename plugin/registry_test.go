package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/user"
)

type countingPlugin struct {
	name     string
	created  atomic.Int32
	consumed atomic.Int32
	rejected atomic.Int32
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnUserCreated(context.Context, *user.User) error {
	p.created.Add(1)
	return nil
}

func (p *countingPlugin) OnCreditsConsumed(context.Context, *user.User, user.UsageEntry) error {
	p.consumed.Add(1)
	return errors.New("ignored")
}

func (p *countingPlugin) OnBillingRejected(context.Context, billing.Event, error) error {
	p.rejected.Add(1)
	return nil
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnUserCreated(ctx context.Context, _ *user.User) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return nil
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&countingPlugin{name: "a"}))
	assert.Error(t, r.Register(&countingPlugin{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := plugin.NewRegistry()
	p := &countingPlugin{name: "counter"}
	require.NoError(t, r.Register(p))

	ctx := context.Background()
	u := user.NewUser("u1", user.Profile{Email: "a@example.com"})

	r.EmitUserCreated(ctx, u)
	r.EmitCreditsConsumed(ctx, u, user.UsageEntry{Amount: 1})
	r.EmitBillingRejected(ctx, billing.PaymentFailed{}, errors.New("boom"))
	r.EmitCreditsGranted(ctx, u, 5)

	assert.Equal(t, int32(1), p.created.Load())
	assert.Equal(t, int32(1), p.consumed.Load(), "hook errors are logged, not propagated")
	assert.Equal(t, int32(1), p.rejected.Load())
}

func TestEmitTimesOut(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(slowPlugin{}))

	start := time.Now()
	r.EmitUserCreated(context.Background(), &user.User{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
