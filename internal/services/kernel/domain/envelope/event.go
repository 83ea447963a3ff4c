package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
)

var (
	// ErrPayloadAddressed indicates the inline payload was swapped for its address.
	ErrPayloadAddressed = errors.New("event payload is content-addressed")
	// ErrPayloadEmpty indicates an event payload with neither form set.
	ErrPayloadEmpty = errors.New("event payload is empty")
)

// EventPayload holds either the inline JSON payload or its content address.
// Exactly one of the two is set.
type EventPayload struct {
	Inline  json.RawMessage  `json:"inline,omitempty"`
	Address *address.Address `json:"address,omitempty"`
}

// InlinePayload builds an inline payload.
func InlinePayload(raw json.RawMessage) EventPayload {
	return EventPayload{Inline: append(json.RawMessage(nil), raw...)}
}

// AddressedPayload builds an addressed payload.
func AddressedPayload(addr address.Address) EventPayload {
	return EventPayload{Address: &addr}
}

// IsAddressed reports whether the payload is a content address.
func (p EventPayload) IsAddressed() bool { return p.Address != nil }

// Validate checks that exactly one form is set.
func (p EventPayload) Validate() error {
	switch {
	case p.Address != nil && len(p.Inline) > 0:
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "event payload has both inline and address forms")
	case p.Address == nil && len(p.Inline) == 0:
		return apperrors.Wrap(apperrors.CodeEnvelopeInvalid, "event payload is empty", ErrPayloadEmpty)
	}
	return nil
}

// PayloadMetadata describes the payload independently of its form.
type PayloadMetadata struct {
	Source      string            `json:"source,omitempty"`
	Version     string            `json:"version,omitempty"`
	PayloadType string            `json:"payload_type"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// EventEnvelope carries one domain event.
type EventEnvelope struct {
	Identity      identity.MessageIdentity `json:"identity"`
	AggregateID   identity.EntityID        `json:"aggregate_id"`
	AggregateType string                   `json:"aggregate_type"`
	// Version is the aggregate version after this event, starting at 1.
	Version uint64 `json:"version"`
	// Sequence is the stream position, assigned on append.
	Sequence   uint64          `json:"sequence,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    EventPayload    `json:"payload"`
	Metadata   PayloadMetadata `json:"metadata"`
}

// EventType returns the payload type name.
func (e EventEnvelope) EventType() string { return e.Metadata.PayloadType }

// Validate checks identity and payload shape.
func (e EventEnvelope) Validate() error {
	if err := validateIdentity("event", e.Identity); err != nil {
		return err
	}
	if e.Metadata.PayloadType == "" {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "event payload type is required")
	}
	return e.Payload.Validate()
}

// EventSpec describes an event to derive.
type EventSpec struct {
	AggregateID   identity.EntityID
	AggregateType string
	// AggregateVersion is the aggregate version this event produces.
	AggregateVersion uint64
	EventType        string
	Payload          any
	Source           string
	Version          string
	Properties       map[string]string
}

// DeriveEvent wraps spec as an event caused by the message with identity
// cause: it inherits the correlation id, cites cause as its causation, and
// receives a fresh message id. The payload is stored inline in canonical JSON.
func DeriveEvent(gen identity.Generator, cause identity.MessageIdentity, spec EventSpec, occurredAt time.Time) (EventEnvelope, error) {
	if spec.EventType == "" {
		return EventEnvelope{}, apperrors.New(apperrors.CodeEnvelopeInvalid, "event type is required")
	}
	raw, err := address.CanonicalJSON(spec.Payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("derive %s: %w", spec.EventType, err)
	}
	return EventEnvelope{
		Identity:      cause.Derive(gen),
		AggregateID:   spec.AggregateID,
		AggregateType: spec.AggregateType,
		Version:       spec.AggregateVersion,
		OccurredAt:    occurredAt.UTC(),
		Payload:       InlinePayload(raw),
		Metadata: PayloadMetadata{
			Source:      spec.Source,
			Version:     spec.Version,
			PayloadType: spec.EventType,
			Properties:  spec.Properties,
		},
	}, nil
}

// SwapToAddressed replaces an inline payload with its content address. The
// identity, sequence, and metadata are unchanged; this is a substitution,
// not a new event. An already addressed envelope is returned as is.
func SwapToAddressed(e EventEnvelope) (EventEnvelope, error) {
	if e.Payload.IsAddressed() {
		return e, nil
	}
	if len(e.Payload.Inline) == 0 {
		return EventEnvelope{}, apperrors.Wrap(apperrors.CodeEnvelopeInvalid, "swap payload", ErrPayloadEmpty)
	}
	addr, err := address.ComputeJSON(e.Payload.Inline, address.ContentTypeEvent)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("swap payload: %w", err)
	}
	e.Payload = AddressedPayload(addr)
	return e, nil
}

// DecodePayload unmarshals the inline payload into T.
func DecodePayload[T any](e EventEnvelope) (T, error) {
	var out T
	if e.Payload.IsAddressed() {
		return out, ErrPayloadAddressed
	}
	if len(e.Payload.Inline) == 0 {
		return out, ErrPayloadEmpty
	}
	if err := json.Unmarshal(e.Payload.Inline, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", e.Metadata.PayloadType, err)
	}
	return out, nil
}
