// Package memory provides an in-process store.Store. Each operation runs
// under the store lock, which gives it the same atomicity the database
// backends get from conditional writes. Intended for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/types"
	"github.com/DimensionCoin/credits/user"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	users  map[string]*user.User // by external ID
	emails map[string]string    // email -> external ID
	events map[string]*billing.Record
}

func New() *Store {
	return &Store{
		users:  make(map[string]*user.User),
		emails: make(map[string]string),
		events: make(map[string]*billing.Record),
	}
}

// ──────────────────────────────────────────────────
// User methods
// ──────────────────────────────────────────────────

func (s *Store) CreateUser(_ context.Context, u *user.User) (*user.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, credits.ErrStoreClosed
	}
	if existing, ok := s.users[u.ExternalID]; ok {
		return existing.Clone(), false, nil
	}
	if _, taken := s.emails[u.Email]; taken {
		return nil, false, fmt.Errorf("%w: email", credits.ErrDuplicateKey)
	}

	stored := u.Clone()
	s.users[u.ExternalID] = stored
	s.emails[u.Email] = u.ExternalID

	return stored.Clone(), true, nil
}

func (s *Store) GetUser(_ context.Context, externalID string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	u, ok := s.users[externalID]
	if !ok {
		return nil, credits.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) GetUserByCustomerRef(_ context.Context, ref string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	if u := s.byCustomerRef(ref); u != nil {
		return u.Clone(), nil
	}
	return nil, credits.ErrUserNotFound
}

func (s *Store) ConsumeCredits(_ context.Context, externalID string, entry user.UsageEntry, historyLimit int) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	u, ok := s.users[externalID]
	if !ok || u.Credits < entry.Amount {
		return nil, credits.ErrInsufficientCreditsOrNotFound
	}

	u.Credits -= entry.Amount
	u.UsageHistory = user.PrependHistory(u.UsageHistory, entry, historyLimit)
	u.Touch()

	return u.Clone(), nil
}

func (s *Store) AddCredits(_ context.Context, externalID string, amount int64) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	u, ok := s.users[externalID]
	if !ok {
		return nil, credits.ErrUserNotFound
	}

	u.Credits += amount
	u.Touch()

	return u.Clone(), nil
}

func (s *Store) ApplyBilling(_ context.Context, sel user.Selector, upd user.BillingUpdate) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}

	var u *user.User
	if sel.ExternalID != "" {
		u = s.users[sel.ExternalID]
	} else {
		u = s.byCustomerRef(sel.CustomerRef)
	}
	if u == nil {
		return nil, credits.ErrUserNotFound
	}

	if upd.Ordered && u.BillingEventAt != nil && u.BillingEventAt.After(upd.EventAt) {
		return nil, credits.ErrStaleEvent
	}
	if upd.CustomerRef != "" {
		if owner := s.byCustomerRef(upd.CustomerRef); owner != nil && owner.ExternalID != u.ExternalID {
			return nil, fmt.Errorf("%w: customer_ref", credits.ErrDuplicateKey)
		}
	}

	u.Tier = upd.Tier
	if upd.Credits != nil {
		u.Credits = *upd.Credits
	}
	if upd.CustomerRef != "" {
		u.CustomerRef = upd.CustomerRef
	}
	if !upd.EventAt.IsZero() {
		at := upd.EventAt.UTC()
		u.BillingEventAt = &at
	}
	u.Touch()

	return u.Clone(), nil
}

func (s *Store) SetTopSelections(_ context.Context, externalID string, selections []string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	u, ok := s.users[externalID]
	if !ok {
		return nil, credits.ErrUserNotFound
	}

	u.TopSelections = append([]string{}, selections...)
	u.Touch()

	return u.Clone(), nil
}

func (s *Store) UpdateProfile(_ context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	u, ok := s.users[externalID]
	if !ok {
		return nil, credits.ErrUserNotFound
	}

	if upd.Email != nil && *upd.Email != u.Email {
		if owner, taken := s.emails[*upd.Email]; taken && owner != externalID {
			return nil, fmt.Errorf("%w: email", credits.ErrDuplicateKey)
		}
		delete(s.emails, u.Email)
		s.emails[*upd.Email] = externalID
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	u.Touch()

	return u.Clone(), nil
}

func (s *Store) byCustomerRef(ref string) *user.User {
	if ref == "" {
		return nil
	}
	for _, u := range s.users {
		if u.CustomerRef == ref {
			return u
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Billing event log
// ──────────────────────────────────────────────────

func (s *Store) RecordEvent(_ context.Context, r *billing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}

	rec := *r
	if existing, ok := s.events[r.ProviderEventID]; ok {
		rec.ID = existing.ID
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = types.Now()
	}
	s.events[r.ProviderEventID] = &rec

	return nil
}

func (s *Store) GetEventRecord(_ context.Context, providerEventID string) (*billing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	r, ok := s.events[providerEventID]
	if !ok {
		return nil, credits.ErrEventNotFound
	}
	rec := *r
	return &rec, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
