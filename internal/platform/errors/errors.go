package errors

import (
	stderrors "errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain for kernel errors.
const Domain = "github.com/louisbranch/aggkernel"

// Coded is implemented by typed kernel errors so they can be classified
// without depending on this package's Error type.
type Coded interface {
	ErrorCode() Code
}

// Error is the generic kernel error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional diagnostic context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the machine-readable code.
func (e *Error) ErrorCode() Code {
	return e.Code
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple kernel error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a kernel error with diagnostic metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a kernel error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first classified error in err's chain, or
// CodeUnknown when none is found.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return CodeUnknown
}

// HasCode reports whether err's chain carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToGRPCStatus converts an error to a gRPC status with errdetails attached.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	st := status.New(code.GRPCCode(), err.Error())

	var metadata map[string]string
	var kernelErr *Error
	if stderrors.As(err, &kernelErr) {
		metadata = kernelErr.Metadata
	}
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(code),
		Domain:   Domain,
		Metadata: metadata,
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}
