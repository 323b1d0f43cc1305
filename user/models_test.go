package user_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/user"
)

func TestNewUserDefaults(t *testing.T) {
	u := user.NewUser("ext_1", user.Profile{Email: "a@example.com", FirstName: "Ada"})

	assert.Equal(t, id.PrefixUser, u.ID.Prefix())
	assert.Equal(t, "ext_1", u.ExternalID)
	assert.Equal(t, user.TierFree, u.Tier)
	assert.Equal(t, user.DefaultCredits, u.Credits)
	assert.Empty(t, u.UsageHistory)
	assert.NotNil(t, u.UsageHistory)
	assert.Empty(t, u.CustomerRef)
	assert.Nil(t, u.BillingEventAt)
}

func TestPrependHistory(t *testing.T) {
	var history []user.UsageEntry
	for i := range 60 {
		history = user.PrependHistory(history, user.NewUsageEntry(1, user.UsageMeta{Detail: fmt.Sprint(i)}), user.HistoryCapacity)
	}

	require.Len(t, history, user.HistoryCapacity)
	assert.Equal(t, "59", history[0].Detail)
	assert.Equal(t, "10", history[len(history)-1].Detail)
}

func TestPrependHistorySmallLimit(t *testing.T) {
	history := []user.UsageEntry{{Detail: "b"}, {Detail: "a"}}
	out := user.PrependHistory(history, user.UsageEntry{Detail: "c"}, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Detail)
	assert.Equal(t, "b", out[1].Detail)
	assert.Len(t, history, 2, "input must not be modified")
}

func TestProfileNormalize(t *testing.T) {
	p := user.Profile{Email: "  Ada@Example.COM ", FirstName: " Ada ", LastName: "Lovelace"}.Normalize()

	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, "Lovelace", p.LastName)
}

func TestCloneIsDeep(t *testing.T) {
	u := user.NewUser("ext_1", user.Profile{Email: "a@example.com"})
	u.TopSelections = []string{"btc"}

	c := u.Clone()
	c.TopSelections[0] = "eth"

	assert.Equal(t, "btc", u.TopSelections[0])
}

func TestTierValid(t *testing.T) {
	assert.True(t, user.TierFree.Valid())
	assert.True(t, user.TierBasic.Valid())
	assert.False(t, user.Tier("pro").Valid())
}
