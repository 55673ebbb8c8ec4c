package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an inference failure so callers can pick a recovery
// path without string matching.
type ErrorKind string

const (
	// ModelUnavailable covers unreachable backends, missing binaries, and
	// malformed backend responses.
	ModelUnavailable ErrorKind = "model_unavailable"
	// Timeout means the configured deadline elapsed before a result.
	Timeout ErrorKind = "timeout"
	// InvalidAudio means the payload could not be processed as speech audio.
	InvalidAudio ErrorKind = "invalid_audio"
)

// InferenceError wraps a backend failure with its classification and the
// operation that produced it.
type InferenceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain. ok is false for
// errors that did not originate in the gateway.
func KindOf(err error) (ErrorKind, bool) {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

// classify maps a raw backend error onto an InferenceError. Deadline
// expiration wins over whatever the backend reported.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return err
	}
	kind := ModelUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	return &InferenceError{Kind: kind, Op: op, Err: err}
}

func invalidAudio(op string, err error) error {
	return &InferenceError{Kind: InvalidAudio, Op: op, Err: err}
}
