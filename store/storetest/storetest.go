// Package storetest is a conformance suite every store.Store implementation
// runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/types"
	"github.com/DimensionCoin/credits/user"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateUserIsIdempotent", testCreateUserIsIdempotent},
		{"CreateUserConcurrent", testCreateUserConcurrent},
		{"CreateUserDuplicateEmail", testCreateUserDuplicateEmail},
		{"GetUserNotFound", testGetUserNotFound},
		{"ConsumeCredits", testConsumeCredits},
		{"ConsumeCreditsInsufficient", testConsumeCreditsInsufficient},
		{"ConsumeCreditsConcurrent", testConsumeCreditsConcurrent},
		{"ConsumeCreditsHistoryCapacity", testConsumeCreditsHistoryCapacity},
		{"AddCredits", testAddCredits},
		{"ApplyBilling", testApplyBilling},
		{"ApplyBillingOrdered", testApplyBillingOrdered},
		{"ApplyBillingCustomerRefUnique", testApplyBillingCustomerRefUnique},
		{"SetTopSelections", testSetTopSelections},
		{"UpdateProfile", testUpdateProfile},
		{"EventRecords", testEventRecords},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// uniq keeps test data distinct when a backend is shared between subtests.
func uniq(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, id.NewUsageID().String()[4:])
}

func seed(t *testing.T, s store.Store) *user.User {
	t.Helper()
	ext := uniq("ext")
	u, created, err := s.CreateUser(context.Background(), user.NewUser(ext, user.Profile{Email: ext + "@example.com"}))
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func testCreateUserIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := seed(t, s)

	assert.Equal(t, user.TierFree, first.Tier)
	assert.Equal(t, user.DefaultCredits, first.Credits)
	assert.Empty(t, first.UsageHistory)

	again, created, err := s.CreateUser(ctx, user.NewUser(first.ExternalID, user.Profile{Email: "other@example.com"}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID.String(), again.ID.String())
	assert.Equal(t, first.Email, again.Email)

	got, err := s.GetUser(ctx, first.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), got.ID.String())
}

func testCreateUserConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	ext := uniq("race")

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[string]struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, c, err := s.CreateUser(ctx, user.NewUser(ext, user.Profile{Email: ext + "@example.com"}))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if c {
				created++
			}
			ids[u.ID.String()] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func testCreateUserDuplicateEmail(t *testing.T, s store.Store) {
	first := seed(t, s)

	_, _, err := s.CreateUser(context.Background(), user.NewUser(uniq("ext"), user.Profile{Email: first.Email}))
	assert.ErrorIs(t, err, credits.ErrDuplicateKey)
}

func testGetUserNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, uniq("missing"))
	assert.ErrorIs(t, err, credits.ErrUserNotFound)

	_, err = s.GetUserByCustomerRef(ctx, uniq("cus"))
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func testConsumeCredits(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	entry := user.NewUsageEntry(3, user.UsageMeta{Category: "backtest", Detail: "BTC"})
	got, err := s.ConsumeCredits(ctx, u.ExternalID, entry, user.HistoryCapacity)
	require.NoError(t, err)

	assert.Equal(t, int64(7), got.Credits)
	require.Len(t, got.UsageHistory, 1)
	assert.Equal(t, "BTC", got.UsageHistory[0].Detail)
	assert.Equal(t, "backtest", got.UsageHistory[0].Category)
	assert.Equal(t, int64(3), got.UsageHistory[0].Amount)
	assert.Equal(t, entry.ID.String(), got.UsageHistory[0].ID.String())
	assert.WithinDuration(t, entry.OccurredAt, got.UsageHistory[0].OccurredAt, time.Millisecond)
}

func testConsumeCreditsInsufficient(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	_, err := s.ConsumeCredits(ctx, u.ExternalID, user.NewUsageEntry(11, user.UsageMeta{}), user.HistoryCapacity)
	assert.ErrorIs(t, err, credits.ErrInsufficientCreditsOrNotFound)

	got, err := s.GetUser(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, user.DefaultCredits, got.Credits)
	assert.Empty(t, got.UsageHistory)

	_, err = s.ConsumeCredits(ctx, uniq("missing"), user.NewUsageEntry(1, user.UsageMeta{}), user.HistoryCapacity)
	assert.ErrorIs(t, err, credits.ErrInsufficientCreditsOrNotFound)

	got, err = s.ConsumeCredits(ctx, u.ExternalID, user.NewUsageEntry(10, user.UsageMeta{}), user.HistoryCapacity)
	require.NoError(t, err)
	assert.Zero(t, got.Credits)
}

func testConsumeCreditsConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeCredits(ctx, u.ExternalID, user.NewUsageEntry(1, user.UsageMeta{Detail: fmt.Sprint(i)}), user.HistoryCapacity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, credits.ErrInsufficientCreditsOrNotFound):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int(user.DefaultCredits), succeeded)
	assert.Equal(t, workers-int(user.DefaultCredits), rejected)

	got, err := s.GetUser(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.Zero(t, got.Credits)
	assert.Len(t, got.UsageHistory, int(user.DefaultCredits))
}

func testConsumeCreditsHistoryCapacity(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	_, err := s.AddCredits(ctx, u.ExternalID, 100)
	require.NoError(t, err)

	var last *user.User
	for i := range user.HistoryCapacity + 5 {
		last, err = s.ConsumeCredits(ctx, u.ExternalID, user.NewUsageEntry(1, user.UsageMeta{Detail: fmt.Sprint(i)}), user.HistoryCapacity)
		require.NoError(t, err)
	}

	require.Len(t, last.UsageHistory, user.HistoryCapacity)
	assert.Equal(t, fmt.Sprint(user.HistoryCapacity+4), last.UsageHistory[0].Detail)
	assert.Equal(t, "5", last.UsageHistory[user.HistoryCapacity-1].Detail)
	assert.Equal(t, int64(110-user.HistoryCapacity-5), last.Credits)

	stored, err := s.GetUser(ctx, u.ExternalID)
	require.NoError(t, err)
	require.Len(t, stored.UsageHistory, user.HistoryCapacity)
	assert.Equal(t, last.UsageHistory[0].Detail, stored.UsageHistory[0].Detail)
}

func testAddCredits(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	got, err := s.AddCredits(ctx, u.ExternalID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Credits)
	assert.Empty(t, got.UsageHistory)

	_, err = s.AddCredits(ctx, uniq("missing"), 1)
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func testApplyBilling(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)
	cus := uniq("cus")

	allotment := int64(200)
	got, err := s.ApplyBilling(ctx, user.ByExternalID(u.ExternalID), user.BillingUpdate{
		Tier:        user.TierBasic,
		Credits:     &allotment,
		CustomerRef: cus,
	})
	require.NoError(t, err)
	assert.Equal(t, user.TierBasic, got.Tier)
	assert.Equal(t, allotment, got.Credits)
	assert.Equal(t, cus, got.CustomerRef)
	assert.Nil(t, got.BillingEventAt)

	byRef, err := s.GetUserByCustomerRef(ctx, cus)
	require.NoError(t, err)
	assert.Equal(t, u.ExternalID, byRef.ExternalID)

	got, err = s.ApplyBilling(ctx, user.ByCustomerRef(cus), user.BillingUpdate{Tier: user.TierFree})
	require.NoError(t, err)
	assert.Equal(t, user.TierFree, got.Tier)
	assert.Equal(t, allotment, got.Credits, "nil credits leaves the balance")
	assert.Equal(t, cus, got.CustomerRef)

	_, err = s.ApplyBilling(ctx, user.ByCustomerRef(uniq("cus")), user.BillingUpdate{Tier: user.TierFree})
	assert.ErrorIs(t, err, credits.ErrUserNotFound)

	_, err = s.ApplyBilling(ctx, user.ByExternalID(uniq("missing")), user.BillingUpdate{Tier: user.TierFree})
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

// A customer reference belongs to one record, so customer-addressed events
// always have a single target.
func testApplyBillingCustomerRefUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := seed(t, s)
	b := seed(t, s)
	cus := uniq("cus")

	allotment := int64(200)
	_, err := s.ApplyBilling(ctx, user.ByExternalID(a.ExternalID), user.BillingUpdate{
		Tier:        user.TierBasic,
		Credits:     &allotment,
		CustomerRef: cus,
	})
	require.NoError(t, err)

	_, err = s.ApplyBilling(ctx, user.ByExternalID(b.ExternalID), user.BillingUpdate{
		Tier:        user.TierBasic,
		Credits:     &allotment,
		CustomerRef: cus,
	})
	require.ErrorIs(t, err, credits.ErrDuplicateKey)

	stored, err := s.GetUser(ctx, b.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, user.TierFree, stored.Tier, "rejected write leaves the record alone")
	assert.Empty(t, stored.CustomerRef)

	// The owner can be re-linked to the same reference.
	_, err = s.ApplyBilling(ctx, user.ByExternalID(a.ExternalID), user.BillingUpdate{
		Tier:        user.TierBasic,
		Credits:     &allotment,
		CustomerRef: cus,
	})
	require.NoError(t, err)

	free := user.DefaultCredits
	got, err := s.ApplyBilling(ctx, user.ByCustomerRef(cus), user.BillingUpdate{Tier: user.TierFree, Credits: &free})
	require.NoError(t, err)
	assert.Equal(t, a.ExternalID, got.ExternalID)

	stored, err = s.GetUser(ctx, b.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, user.DefaultCredits, stored.Credits)
}

func testApplyBillingOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	t1 := types.Now().Add(-time.Hour)
	t2 := t1.Add(time.Minute)

	allotment := int64(200)
	got, err := s.ApplyBilling(ctx, user.ByExternalID(u.ExternalID), user.BillingUpdate{
		Tier:    user.TierBasic,
		Credits: &allotment,
		EventAt: t2,
		Ordered: true,
	})
	require.NoError(t, err)
	require.NotNil(t, got.BillingEventAt)
	assert.True(t, got.BillingEventAt.Equal(t2))

	_, err = s.ApplyBilling(ctx, user.ByExternalID(u.ExternalID), user.BillingUpdate{
		Tier:    user.TierFree,
		EventAt: t1,
		Ordered: true,
	})
	assert.ErrorIs(t, err, credits.ErrStaleEvent)

	stored, err := s.GetUser(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, user.TierBasic, stored.Tier)

	got, err = s.ApplyBilling(ctx, user.ByExternalID(u.ExternalID), user.BillingUpdate{
		Tier:    user.TierFree,
		EventAt: t2,
		Ordered: true,
	})
	require.NoError(t, err, "an event at the same instant is not stale")
	assert.Equal(t, user.TierFree, got.Tier)

	got, err = s.ApplyBilling(ctx, user.ByExternalID(u.ExternalID), user.BillingUpdate{
		Tier:    user.TierBasic,
		EventAt: t1,
	})
	require.NoError(t, err, "unordered updates always apply")
	assert.Equal(t, user.TierBasic, got.Tier)
}

func testSetTopSelections(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := seed(t, s)

	got, err := s.SetTopSelections(ctx, u.ExternalID, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, got.TopSelections)

	got, err = s.SetTopSelections(ctx, u.ExternalID, []string{})
	require.NoError(t, err)
	assert.Empty(t, got.TopSelections)

	_, err = s.SetTopSelections(ctx, uniq("missing"), []string{"BTC"})
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func testUpdateProfile(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := seed(t, s)
	b := seed(t, s)

	first := "Ada"
	got, err := s.UpdateProfile(ctx, a.ExternalID, user.ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, a.Email, got.Email)

	email := uniq("new") + "@example.com"
	got, err = s.UpdateProfile(ctx, a.ExternalID, user.ProfileUpdate{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, email, got.Email)

	taken := b.Email
	_, err = s.UpdateProfile(ctx, a.ExternalID, user.ProfileUpdate{Email: &taken})
	assert.ErrorIs(t, err, credits.ErrDuplicateKey)

	_, err = s.UpdateProfile(ctx, uniq("missing"), user.ProfileUpdate{FirstName: &first})
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func testEventRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	evt := uniq("evt")

	_, err := s.GetEventRecord(ctx, evt)
	assert.ErrorIs(t, err, credits.ErrEventNotFound)

	occurred := types.Now().Add(-time.Minute)
	rec := &billing.Record{
		ID:              id.NewBillingEventID(),
		ProviderEventID: evt,
		Kind:            billing.KindInvoicePaid,
		Subject:         "cus_1",
		Outcome:         billing.OutcomeRejected,
		Reason:          "user not found",
		OccurredAt:      occurred,
		ProcessedAt:     types.Now(),
	}
	require.NoError(t, s.RecordEvent(ctx, rec))

	got, err := s.GetEventRecord(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeRejected, got.Outcome)
	assert.Equal(t, billing.KindInvoicePaid, got.Kind)
	assert.Equal(t, "cus_1", got.Subject)
	assert.True(t, got.OccurredAt.Equal(occurred))

	retry := *rec
	retry.ID = id.NewBillingEventID()
	retry.Outcome = billing.OutcomeApplied
	retry.Reason = ""
	require.NoError(t, s.RecordEvent(ctx, &retry))

	got, err = s.GetEventRecord(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, got.Outcome)
	assert.Empty(t, got.Reason)
	assert.Equal(t, rec.ID.String(), got.ID.String(), "the first record's ID is kept")
}
