package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/user"
)

// ==================== User models ====================

type userModel struct {
	ID             string       `bson:"_id"`
	ExternalID     string       `bson:"external_id"`
	Email          string       `bson:"email"`
	FirstName      string       `bson:"first_name"`
	LastName       string       `bson:"last_name"`
	Tier           string       `bson:"tier"`
	CustomerRef    string       `bson:"customer_ref,omitempty"`
	Credits        int64        `bson:"credits"`
	TopSelections  []string     `bson:"top_selections"`
	UsageHistory   []usageModel `bson:"usage_history"`
	BillingEventAt *time.Time   `bson:"billing_event_at,omitempty"`
	CreatedAt      time.Time    `bson:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at"`
}

type usageModel struct {
	ID         string    `bson:"id"`
	Category   string    `bson:"category"`
	Detail     string    `bson:"detail"`
	Amount     int64     `bson:"amount"`
	OccurredAt time.Time `bson:"occurred_at"`
}

// insertDoc is the $setOnInsert payload for u. external_id comes from the
// upsert filter.
func insertDoc(u *user.User) bson.M {
	return bson.M{
		"_id":            u.ID.String(),
		"email":          u.Email,
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"tier":           string(u.Tier),
		"credits":        u.Credits,
		"top_selections": nonNil(u.TopSelections),
		"usage_history":  bson.A{},
		"created_at":     u.CreatedAt,
		"updated_at":     u.UpdatedAt,
	}
}

func toUsageModel(e user.UsageEntry) usageModel {
	return usageModel{
		ID:         e.ID.String(),
		Category:   e.Category,
		Detail:     e.Detail,
		Amount:     e.Amount,
		OccurredAt: e.OccurredAt,
	}
}

func fromUserModel(m *userModel) (*user.User, error) {
	uid, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	history := make([]user.UsageEntry, 0, len(m.UsageHistory))
	for _, h := range m.UsageHistory {
		hid, err := id.ParseUsageID(h.ID)
		if err != nil {
			return nil, fmt.Errorf("parse usage id: %w", err)
		}
		history = append(history, user.UsageEntry{
			ID:         hid,
			Category:   h.Category,
			Detail:     h.Detail,
			Amount:     h.Amount,
			OccurredAt: h.OccurredAt.UTC(),
		})
	}

	u := &user.User{
		ID:            uid,
		ExternalID:    m.ExternalID,
		Email:         m.Email,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Tier:          user.Tier(m.Tier),
		CustomerRef:   m.CustomerRef,
		Credits:       m.Credits,
		TopSelections: nonNil(m.TopSelections),
		UsageHistory:  history,
	}
	u.CreatedAt = m.CreatedAt.UTC()
	u.UpdatedAt = m.UpdatedAt.UTC()
	if m.BillingEventAt != nil {
		at := m.BillingEventAt.UTC()
		u.BillingEventAt = &at
	}

	return u, nil
}

// ==================== Billing event models ====================

type eventModel struct {
	ID              string    `bson:"_id"`
	ProviderEventID string    `bson:"provider_event_id"`
	Kind            string    `bson:"kind"`
	Subject         string    `bson:"subject"`
	Outcome         string    `bson:"outcome"`
	Reason          string    `bson:"reason"`
	OccurredAt      time.Time `bson:"occurred_at"`
	ProcessedAt     time.Time `bson:"processed_at"`
}

func fromEventModel(m *eventModel) (*billing.Record, error) {
	rid, err := id.ParseBillingEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse billing event id: %w", err)
	}
	return &billing.Record{
		ID:              rid,
		ProviderEventID: m.ProviderEventID,
		Kind:            billing.Kind(m.Kind),
		Subject:         m.Subject,
		Outcome:         billing.Outcome(m.Outcome),
		Reason:          m.Reason,
		OccurredAt:      m.OccurredAt.UTC(),
		ProcessedAt:     m.ProcessedAt.UTC(),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
