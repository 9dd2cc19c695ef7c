package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind is the short machine classification attached to every
// externally observable failure.
type FailureKind string

const (
	// KindTransport covers network and HTTP failures reported by the transport.
	KindTransport FailureKind = "transport"

	// KindTimeout is synthesized locally when no terminal transport event
	// arrived within the configured duration.
	KindTimeout FailureKind = "timeout"

	// KindCancelled is an explicit caller-initiated abort.
	KindCancelled FailureKind = "cancelled"

	// KindMalformed means a payload was present but could not be decoded
	// into the expected shape. It propagates like KindTransport.
	KindMalformed FailureKind = "malformed_response"
)

// Common errors.
var (
	// ErrMalformed marks payloads that do not decode into the expected shape.
	ErrMalformed = errors.New("malformed response")

	// ErrOperationActive is returned when an id is registered twice.
	ErrOperationActive = errors.New("operation already active")

	// ErrLoopStopped is returned when work is submitted to a stopped loop.
	ErrLoopStopped = errors.New("coordination loop stopped")
)

// Failure is a classified failure with a human readable message.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// NewFailure creates a Failure.
func NewFailure(kind FailureKind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps an arbitrary error onto the failure taxonomy.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, ErrMalformed), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return KindMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindTransport
	}
}

// AsFailure returns err as a *Failure, classifying it if needed.
// Returns nil for a nil error.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	kind := Classify(err)
	return NewFailure(kind, kind.Describe(), err)
}

// Describe returns a short human description of the kind.
func (k FailureKind) Describe() string {
	switch k {
	case KindTransport:
		return "request failed"
	case KindTimeout:
		return "request timed out"
	case KindCancelled:
		return "request cancelled"
	case KindMalformed:
		return "response could not be decoded"
	default:
		return "unknown failure"
	}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind FailureKind) bool {
	return err != nil && Classify(err) == kind
}
