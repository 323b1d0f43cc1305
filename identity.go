package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DimensionCoin/credits/user"
)

// ──────────────────────────────────────────────────
// Identity bridge
// ──────────────────────────────────────────────────

// EnsureUser returns the record for externalID, creating it from profile on
// first sight. Concurrent first calls for the same identity produce exactly
// one record; every caller receives it. An existing record is returned
// unchanged, so profile is only consulted on creation.
func (e *Engine) EnsureUser(ctx context.Context, externalID string, profile user.Profile) (*user.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}

	existing, err := e.store.GetUser(ctx, externalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	profile = profile.Normalize()
	if profile.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingProfileData)
	}

	u, created, err := e.store.CreateUser(ctx, user.NewUser(externalID, profile))
	if err != nil {
		return nil, err
	}

	if created {
		e.logger.Info("user created",
			"external_id", u.ExternalID,
			"user_id", u.ID.String(),
		)
		e.plugins.EmitUserCreated(ctx, u)
	}

	return u, nil
}

// GetUser returns the record for externalID.
func (e *Engine) GetUser(ctx context.Context, externalID string) (*user.User, error) {
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}
	return e.store.GetUser(ctx, externalID)
}

// GetUserByCustomerRef returns the record linked to a billing customer.
func (e *Engine) GetUserByCustomerRef(ctx context.Context, ref string) (*user.User, error) {
	if ref == "" {
		return nil, ErrMissingCorrelation
	}
	return e.store.GetUserByCustomerRef(ctx, ref)
}

// UpdateProfile changes identity attributes. Tier, credits and billing
// linkage are not reachable from here.
func (e *Engine) UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error) {
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}
	if upd.Empty() {
		return e.store.GetUser(ctx, externalID)
	}

	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if email == "" {
			return nil, fmt.Errorf("%w: email", ErrMissingProfileData)
		}
		upd.Email = &email
	}
	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		upd.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		upd.LastName = &v
	}

	u, err := e.store.UpdateProfile(ctx, externalID, upd)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitProfileUpdated(ctx, u)
	return u, nil
}

// ──────────────────────────────────────────────────
// Top selections
// ──────────────────────────────────────────────────

// TopSelections returns the user's pinned selections.
func (e *Engine) TopSelections(ctx context.Context, externalID string) ([]string, error) {
	u, err := e.GetUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return u.TopSelections, nil
}

// SetTopSelections replaces the pinned selections. Blank and repeated
// entries are dropped; more than user.MaxTopSelections remaining is an error.
func (e *Engine) SetTopSelections(ctx context.Context, externalID string, selections []string) (*user.User, error) {
	if externalID == "" {
		return nil, ErrMissingCorrelation
	}

	cleaned := make([]string, 0, len(selections))
	seen := make(map[string]struct{}, len(selections))
	for _, s := range selections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		cleaned = append(cleaned, s)
	}

	if len(cleaned) > user.MaxTopSelections {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManySelections, len(cleaned), user.MaxTopSelections)
	}

	return e.store.SetTopSelections(ctx, externalID, cleaned)
}
