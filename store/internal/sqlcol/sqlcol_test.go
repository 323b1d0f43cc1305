package sqlcol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/user"
)

func TestUsageHistoryRoundTrip(t *testing.T) {
	e := user.NewUsageEntry(2, user.UsageMeta{Category: "backtest", Detail: "ETH"})

	obj, err := EncodeUsage(e)
	require.NoError(t, err)

	history, err := DecodeHistory([]byte("[" + obj + "]"))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, e.ID.String(), history[0].ID.String())
	assert.Equal(t, "ETH", history[0].Detail)
	assert.True(t, e.OccurredAt.Equal(history[0].OccurredAt))
}

func TestDecodeEmpty(t *testing.T) {
	history, err := DecodeHistory(nil)
	require.NoError(t, err)
	assert.NotNil(t, history)

	sel, err := DecodeSelections([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestEncodeSelectionsNil(t *testing.T) {
	s, err := EncodeSelections(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestDecodeHistoryRejectsBadID(t *testing.T) {
	_, err := DecodeHistory([]byte(`[{"id":"usr_01h2xcejqtf2nbrexx3vqjhp41"}]`))
	assert.Error(t, err)
}
