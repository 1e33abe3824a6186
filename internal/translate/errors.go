package translate

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a request fell back to the original text.
type FailureKind string

const (
	FailureUnavailable   FailureKind = "unavailable"    // liveness probe failed
	FailureRequest       FailureKind = "request"        // transport error or non-200 status
	FailureMalformed     FailureKind = "malformed"      // expected fields missing or empty
	FailureDecode        FailureKind = "decode"         // body is not valid JSON
	FailureNotConfigured FailureKind = "not_configured" // no credentials for the back-end
)

// Error is returned by the back-end clients. The relay converts it into a
// fallback Result and never hands it to callers.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(kind FailureKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the failure category of err. Errors that did not come from
// a back-end client count as request failures.
func KindOf(err error) FailureKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return FailureRequest
}

// ErrQueueFull is returned by callers that enqueue on behalf of others when
// the relay rejects a request.
var ErrQueueFull = errors.New("translation queue is full")
