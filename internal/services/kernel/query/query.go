// Package query answers read-side queries. Every response carries the
// identity of the query it answers so callers can match asynchronous replies.
package query

import (
	"context"
	"errors"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
)

var (
	// ErrReadModelRequired indicates a responder without its read model.
	ErrReadModelRequired = errors.New("query: read model is required")
)

// Responder answers queries of type Q with results of type R.
type Responder[Q, R any] interface {
	Respond(ctx context.Context, q envelope.QueryEnvelope[Q]) (envelope.QueryResponse[R], error)
}

// Func adapts a function to Responder.
type Func[Q, R any] func(ctx context.Context, q Q) (R, error)

// Respond implements Responder.
func (f Func[Q, R]) Respond(ctx context.Context, q envelope.QueryEnvelope[Q]) (envelope.QueryResponse[R], error) {
	if err := q.Validate(); err != nil {
		return envelope.QueryResponse[R]{}, err
	}
	result, err := f(ctx, q.Query)
	if err != nil {
		return envelope.QueryResponse[R]{}, err
	}
	return envelope.Respond(q, result), nil
}
