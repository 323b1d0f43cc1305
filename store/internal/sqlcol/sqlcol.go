// Package sqlcol encodes the JSON columns shared by the SQL stores.
// Timestamps inside JSON are Unix milliseconds.
package sqlcol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DimensionCoin/credits/id"
	"github.com/DimensionCoin/credits/user"
)

type usageJSON struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Detail     string `json:"detail"`
	Amount     int64  `json:"amount"`
	OccurredAt int64  `json:"occurred_at"`
}

// EncodeUsage renders e as one JSON object.
func EncodeUsage(e user.UsageEntry) (string, error) {
	b, err := json.Marshal(usageJSON{
		ID:         e.ID.String(),
		Category:   e.Category,
		Detail:     e.Detail,
		Amount:     e.Amount,
		OccurredAt: e.OccurredAt.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode usage entry: %w", err)
	}
	return string(b), nil
}

// DecodeHistory parses a JSON array of usage entries, newest first.
func DecodeHistory(raw []byte) ([]user.UsageEntry, error) {
	if len(raw) == 0 {
		return []user.UsageEntry{}, nil
	}

	var rows []usageJSON
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode usage history: %w", err)
	}

	out := make([]user.UsageEntry, 0, len(rows))
	for _, r := range rows {
		uid, err := id.ParseUsageID(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, user.UsageEntry{
			ID:         uid,
			Category:   r.Category,
			Detail:     r.Detail,
			Amount:     r.Amount,
			OccurredAt: FromMillis(r.OccurredAt),
		})
	}
	return out, nil
}

// EncodeSelections renders selections as a JSON array, never null.
func EncodeSelections(selections []string) (string, error) {
	if selections == nil {
		selections = []string{}
	}
	b, err := json.Marshal(selections)
	if err != nil {
		return "", fmt.Errorf("encode selections: %w", err)
	}
	return string(b), nil
}

func DecodeSelections(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode selections: %w", err)
	}
	return out, nil
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
