package envelope

import "github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"

// AckStatus reports whether a message was accepted.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckRejected AckStatus = "rejected"
)

// CommandAck acknowledges a command. It carries the command's identity so
// an asynchronous caller can match it to the request.
type CommandAck struct {
	Command identity.MessageIdentity `json:"command"`
	Status  AckStatus                `json:"status"`
	Reason  string                   `json:"reason,omitempty"`
}

// CommandID returns the acknowledged command's message id.
func (a CommandAck) CommandID() identity.MessageID { return a.Command.MessageID }

// AcceptCommand acknowledges a command as accepted.
func AcceptCommand[C any](cmd CommandEnvelope[C]) CommandAck {
	return CommandAck{Command: cmd.Identity, Status: AckAccepted}
}

// RejectCommand acknowledges a command as rejected with a reason.
func RejectCommand[C any](cmd CommandEnvelope[C], reason string) CommandAck {
	return CommandAck{Command: cmd.Identity, Status: AckRejected, Reason: reason}
}

// QueryAck acknowledges receipt of a query.
type QueryAck struct {
	Query  identity.MessageIdentity `json:"query"`
	Status AckStatus                `json:"status"`
	Reason string                   `json:"reason,omitempty"`
}

// AcceptQuery acknowledges a query as accepted.
func AcceptQuery[Q any](q QueryEnvelope[Q]) QueryAck {
	return QueryAck{Query: q.Identity, Status: AckAccepted}
}

// RejectQuery acknowledges a query as rejected with a reason.
func RejectQuery[Q any](q QueryEnvelope[Q], reason string) QueryAck {
	return QueryAck{Query: q.Identity, Status: AckRejected, Reason: reason}
}

// QueryResponse answers a query and carries its identity.
type QueryResponse[R any] struct {
	Query  identity.MessageIdentity `json:"query"`
	Result R                        `json:"result"`
}

// Respond builds the response to q.
func Respond[Q, R any](q QueryEnvelope[Q], result R) QueryResponse[R] {
	return QueryResponse[R]{Query: q.Identity, Result: result}
}
