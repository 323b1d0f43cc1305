package credits

import (
	"context"
	"errors"

	"github.com/DimensionCoin/credits/user"
)

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Consume debits amount from externalID's balance and records the usage,
// as one atomic conditional update. When the balance does not cover amount,
// or the record does not exist, nothing changes and
// ErrInsufficientCreditsOrNotFound is returned; the two causes are not
// distinguished.
func (e *Engine) Consume(ctx context.Context, externalID string, amount int64, meta user.UsageMeta) (*user.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}

	entry := user.NewUsageEntry(amount, meta)

	u, err := e.store.ConsumeCredits(ctx, externalID, entry, e.historyLimit)
	if err != nil {
		if errors.Is(err, ErrInsufficientCreditsOrNotFound) {
			e.logger.Debug("consume rejected",
				"external_id", externalID,
				"amount", amount,
			)
			e.plugins.EmitConsumeRejected(ctx, externalID, amount, err)
		}
		return nil, err
	}

	e.plugins.EmitCreditsConsumed(ctx, u, entry)
	return u, nil
}

// Grant adds amount to externalID's balance. Usage history is untouched.
func (e *Engine) Grant(ctx context.Context, externalID string, amount int64) (*user.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}

	u, err := e.store.AddCredits(ctx, externalID, amount)
	if err != nil {
		return nil, err
	}

	e.logger.Info("credits granted",
		"external_id", externalID,
		"amount", amount,
		"balance", u.Credits,
	)
	e.plugins.EmitCreditsGranted(ctx, u, amount)

	return u, nil
}

// HasBalance reports whether externalID currently holds at least required
// credits (1 when required is not positive). The answer is advisory: a
// concurrent Consume may spend the balance before the caller acts, so only
// Consume's own result decides whether a debit happened.
func (e *Engine) HasBalance(ctx context.Context, externalID string, required int64) (bool, error) {
	if required <= 0 {
		required = 1
	}

	u, err := e.GetUser(ctx, externalID)
	if err != nil {
		return false, err
	}

	return u.Credits >= required, nil
}
