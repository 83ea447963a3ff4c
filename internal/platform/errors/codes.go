// Package errors provides the structured error taxonomy shared by the kernel.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Aggregate errors
	CodeDomainRejected      Code = "DOMAIN_REJECTED"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"

	// Saga errors
	CodeSagaInvalidTransition  Code = "SAGA_INVALID_TRANSITION"
	CodeSagaCompensationFailed Code = "SAGA_COMPENSATION_FAILED"

	// Integrity errors
	CodeChainVerificationFailed Code = "CHAIN_VERIFICATION_FAILED"
	CodeAddressInvalid          Code = "ADDRESS_INVALID"

	// Envelope errors
	CodeEnvelopeInvalid Code = "ENVELOPE_INVALID"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeStreamAppendFailed Code = "STREAM_APPEND_FAILED"
)

// GRPCCode maps kernel codes to gRPC status codes for callers that expose the
// kernel behind a gRPC service.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed input
	case CodeEnvelopeInvalid,
		CodeAddressInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - current state does not allow the operation
	case CodeDomainRejected,
		CodeSagaInvalidTransition:
		return codes.FailedPrecondition

	// Aborted - caller must re-read and retry
	case CodeConcurrencyConflict:
		return codes.Aborted

	// DataLoss - integrity of the history is broken
	case CodeChainVerificationFailed:
		return codes.DataLoss

	case CodeNotFound:
		return codes.NotFound

	case CodeStreamAppendFailed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// Retryable reports whether a caller may retry after re-reading state.
// Compensation failures are deliberately excluded: they need intervention.
func (c Code) Retryable() bool {
	switch c {
	case CodeConcurrencyConflict, CodeStreamAppendFailed:
		return true
	default:
		return false
	}
}
