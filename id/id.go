// Package id defines TypeID-based identity types for credits entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all entity types.
const (
	PrefixUser         Prefix = "usr"  // Local user record
	PrefixUsage        Prefix = "use"  // Usage history entry
	PrefixBillingEvent Prefix = "bevt" // Billing event log record
)

// ID wraps a TypeID. The zero value is the empty ID and marshals to "".
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

func parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := parse(s)
	if err != nil {
		return ID{}, err
	}

	if parsed.Prefix() != expected {
		return ID{}, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// ──────────────────────────────────────────────────
// Typed aliases
// ──────────────────────────────────────────────────

// UserID identifies a local user record (prefix: "usr").
type UserID = ID

// UsageID identifies a usage history entry (prefix: "use").
type UsageID = ID

// BillingEventID identifies a billing event log record (prefix: "bevt").
type BillingEventID = ID

// NewUserID generates a new unique user ID.
func NewUserID() ID { return New(PrefixUser) }

// NewUsageID generates a new unique usage entry ID.
func NewUsageID() ID { return New(PrefixUsage) }

// NewBillingEventID generates a new unique billing event record ID.
func NewBillingEventID() ID { return New(PrefixBillingEvent) }

// ParseUserID parses a string and validates the "usr" prefix.
func ParseUserID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUser) }

// ParseUsageID parses a string and validates the "use" prefix.
func ParseUsageID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUsage) }

// ParseBillingEventID parses a string and validates the "bevt" prefix.
func ParseBillingEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixBillingEvent) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the zero ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID{}

		return nil
	}

	parsed, err := parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}
