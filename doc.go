// Package credits keeps a per-user credit balance, subscription tier and
// usage history consistent under concurrent consumption and asynchronous
// billing notifications.
//
// The Engine combines three roles over one store:
//
//   - Identity bridge: EnsureUser maps an identity-provider user ID to
//     exactly one local record, created with the free tier and
//     user.DefaultCredits on first sight.
//   - Ledger: Consume debits credits with a single atomic conditional
//     update, so concurrent requests can never overdraw a balance. Grant
//     adds credits. HasBalance is an advisory read.
//   - Billing reconciler: Apply turns billing.Event values into absolute
//     tier and balance assignments, resolved through a static plan.Catalog.
//
// # Quick Start
//
//	import (
//	    "github.com/DimensionCoin/credits"
//	    "github.com/DimensionCoin/credits/plan"
//	    "github.com/DimensionCoin/credits/store/mongo"
//	)
//
//	s, err := mongo.Open(ctx, uri, "app")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := credits.New(s,
//	    credits.WithCatalog(plan.MustCatalog(plan.Basic(os.Getenv("STRIPE_PRICE_BASIC")))),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	u, err := engine.EnsureUser(ctx, "user_2abc", credits.Profile{Email: "a@example.com"})
//	u, err = engine.Consume(ctx, u.ExternalID, 1, credits.UsageMeta{Category: "backtest", Detail: "BTC"})
//	if errors.Is(err, credits.ErrInsufficientCreditsOrNotFound) {
//	    // reject the request
//	}
//
// # Stores
//
// store/memory, store/mongo, store/sqlite and store/postgres implement
// store.Store. Each enforces external ID and email uniqueness in the
// storage layer and performs every balance mutation as one conditional
// write returning the updated record.
//
// # Boundaries
//
// stripehook verifies and decodes billing provider webhooks into
// billing.Event values; clerkhook verifies identity provider webhooks and
// calls EnsureUser; api exposes the engine to authenticated clients.
package credits
