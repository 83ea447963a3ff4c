// Package identity defines message and entity identifiers and the rules for
// threading correlation and causation through a message flow.
package identity

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageID identifies one command, query, or event. Ids produced by a
// Generator sort in allocation order.
type MessageID uuid.UUID

// EntityID identifies an aggregate instance.
type EntityID uuid.UUID

// ParseMessageID parses the canonical UUID string form.
func ParseMessageID(raw string) (MessageID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return MessageID{}, fmt.Errorf("parse message id: %w", err)
	}
	return MessageID(parsed), nil
}

// String returns the canonical UUID string.
func (id MessageID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool { return id == MessageID{} }

// Compare orders ids bytewise, which for generated ids is allocation order.
func (id MessageID) Compare(other MessageID) int { return bytes.Compare(id[:], other[:]) }

// Time returns the millisecond timestamp embedded in a time-ordered id.
func (id MessageID) Time() time.Time {
	var ms [8]byte
	copy(ms[2:], id[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(ms[:]))).UTC()
}

// MarshalText implements encoding.TextMarshaler.
func (id MessageID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *MessageID) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewEntityID allocates an entity id from gen.
func NewEntityID(gen Generator) EntityID { return EntityID(gen.NewID()) }

// ParseEntityID parses the canonical UUID string form.
func ParseEntityID(raw string) (EntityID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return EntityID{}, fmt.Errorf("parse entity id: %w", err)
	}
	return EntityID(parsed), nil
}

// String returns the canonical UUID string.
func (id EntityID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset.
func (id EntityID) IsZero() bool { return id == EntityID{} }

// MarshalText implements encoding.TextMarshaler.
func (id EntityID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntityID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
