package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout indicates that an operation, typically a connect handshake, exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrConfig indicates a missing or invalid connection parameter, or an incompatible remote version.
	// Configuration errors are fatal and never retried.
	ErrConfig = errors.New("configuration error")

	// ErrRemote indicates that the remote side reported a failure.
	ErrRemote = errors.New("remote error")

	// ErrValidation indicates a malformed request rejected before any network call.
	ErrValidation = errors.New("validation error")
)

var (
	// ErrClosed indicates that the transport has been closed.
	ErrClosed = errors.New("transport closed")

	// ErrShortRead indicates that the remote returned fewer bytes than requested.
	ErrShortRead = errors.New("short read")
)

// TimeoutError reports an operation that did not complete within its deadline.
type TimeoutError struct {
	Op    string
	Addr  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Op, e.Addr, e.After)
}

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ConfigError reports a configuration problem detected at construction time.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid " + e.Field
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfig, e.Err}
	}

	return []error{ErrConfig}
}

// RemoteError reports a non-success response from the remote side.
//
// Body holds the decoded error payload: the JSON value when the response was
// JSON, otherwise the response text. Raw holds the undecoded bytes.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       any
	Raw        []byte
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned status %d: %v", e.Op, e.StatusCode, e.Body)
	}

	return fmt.Sprintf("%s: remote failure: %v", e.Op, e.Body)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// ValidationError reports a request argument that violates the transport contract.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsTimeout reports whether err is a timeout of any backend.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
