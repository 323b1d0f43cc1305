package mongo_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/store/mongo"
	"github.com/DimensionCoin/credits/store/storetest"
)

// Set CREDITS_TEST_MONGO_URI (e.g. mongodb://localhost:27017/?replicaSet=rs0)
// to run against a live server.
func TestConformance(t *testing.T) {
	uri := os.Getenv("CREDITS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CREDITS_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := fmt.Sprintf("credits_test_%d", time.Now().UnixNano())

	admin, err := mongo.Open(ctx, uri, database)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = admin.DB().Drop(context.Background())
		_ = admin.Close()
	})

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := mongo.Open(context.Background(), uri, database)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}
