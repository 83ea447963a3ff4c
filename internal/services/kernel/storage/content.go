package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
)

var (
	// ErrContentStoreRequired indicates an addressed payload with no content store to resolve it.
	ErrContentStoreRequired = errors.New("storage: content store is required for addressed payloads")
	// ErrContentMismatch indicates stored bytes that do not hash to their address.
	ErrContentMismatch = errors.New("storage: content does not match its address")
)

// Inline returns env with an addressed payload replaced by the verified bytes
// it names. Inline payloads are returned unchanged.
func Inline(ctx context.Context, content ContentStore, env envelope.EventEnvelope) (envelope.EventEnvelope, error) {
	if !env.Payload.IsAddressed() {
		return env, nil
	}
	if content == nil {
		return env, fmt.Errorf("%s event %d: %w", env.EventType(), env.Sequence, ErrContentStoreRequired)
	}
	addr := *env.Payload.Address
	raw, err := content.Get(ctx, addr)
	if err != nil {
		return env, fmt.Errorf("load %s payload %s: %w", env.EventType(), addr, err)
	}
	if !addr.Verify(raw) {
		return env, fmt.Errorf("%s payload %s: %w", env.EventType(), addr, ErrContentMismatch)
	}
	env.Payload = envelope.InlinePayload(raw)
	return env, nil
}
