// Package types provides common types shared across credits packages.
package types

import "time"

// Entity carries creation and modification timestamps.
// Embed it in persisted records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	now := Now()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp to now.
func (e *Entity) Touch() {
	e.UpdatedAt = Now()
}

// Age returns how long ago the entity was created.
func (e Entity) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// Now returns the current time in UTC truncated to millisecond precision,
// which every supported store can represent exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
