package user

import (
	"strings"
	"time"

	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/types"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierBasic
}

const (
	// DefaultCredits is the allotment of a new or downgraded free user.
	DefaultCredits int64 = 10
	// HistoryCapacity bounds UsageHistory; older entries are evicted.
	HistoryCapacity = 50
	// MaxTopSelections bounds TopSelections.
	MaxTopSelections = 3
)

type User struct {
	types.Entity
	ID             id.UserID    `json:"id"`
	ExternalID     string       `json:"external_id"`
	Email          string       `json:"email"`
	FirstName      string       `json:"first_name,omitempty"`
	LastName       string       `json:"last_name,omitempty"`
	Tier           Tier         `json:"tier"`
	CustomerRef    string       `json:"customer_ref,omitempty"`
	Credits        int64        `json:"credits"`
	TopSelections  []string     `json:"top_selections"`
	UsageHistory   []UsageEntry `json:"usage_history"`
	BillingEventAt *time.Time   `json:"billing_event_at,omitempty"`
}

type UsageEntry struct {
	ID         id.UsageID `json:"id"`
	Category   string     `json:"category"`
	Detail     string     `json:"detail"`
	Amount     int64      `json:"amount"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// UsageMeta describes what a consumption paid for.
type UsageMeta struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// Profile holds identity attributes supplied when a record is first created.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
}

// Normalize trims whitespace and lowercases the email.
func (p Profile) Normalize() Profile {
	return Profile{
		Email:     strings.ToLower(strings.TrimSpace(p.Email)),
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
	}
}

// ProfileUpdate changes identity attributes. Nil fields are left alone.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Email == nil && u.FirstName == nil && u.LastName == nil
}

// NewUser builds the default record for a first-seen identity.
func NewUser(externalID string, p Profile) *User {
	return &User{
		Entity:        types.NewEntity(),
		ID:            id.NewUserID(),
		ExternalID:    externalID,
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Tier:          TierFree,
		Credits:       DefaultCredits,
		TopSelections: []string{},
		UsageHistory:  []UsageEntry{},
	}
}

// NewUsageEntry stamps meta with a fresh ID and the current time.
func NewUsageEntry(amount int64, meta UsageMeta) UsageEntry {
	return UsageEntry{
		ID:         id.NewUsageID(),
		Category:   meta.Category,
		Detail:     meta.Detail,
		Amount:     amount,
		OccurredAt: types.Now(),
	}
}

// PrependHistory returns history with e at the front, truncated to limit.
func PrependHistory(history []UsageEntry, e UsageEntry, limit int) []UsageEntry {
	if limit <= 0 {
		limit = HistoryCapacity
	}
	n := min(len(history)+1, limit)
	out := make([]UsageEntry, 0, n)
	out = append(out, e)
	for _, h := range history {
		if len(out) == n {
			break
		}
		out = append(out, h)
	}
	return out
}

// Clone returns a deep copy so callers cannot alias store state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.TopSelections = append([]string{}, u.TopSelections...)
	c.UsageHistory = append([]UsageEntry{}, u.UsageHistory...)
	if u.BillingEventAt != nil {
		t := *u.BillingEventAt
		c.BillingEventAt = &t
	}
	return &c
}
