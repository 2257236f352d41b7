package transport

// Result carries the value of a best-effort operation together with the error that produced it.
//
// Value holds the operation's boolean-style outcome; Err is nil on success and
// otherwise describes why the operation did not succeed.
type Result[T any] struct {
	Value T
	Err   error
}

// OK returns a successful Result.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failed returns a Result holding the zero value and err.
func Failed[T any](err error) Result[T] {
	var zero T
	return Result[T]{Value: zero, Err: err}
}

// Unwrap returns the value and error as a pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// Succeeded reports whether the Result has no error.
func (r Result[T]) Succeeded() bool {
	return r.Err == nil
}

// RunState is the tri-state answer of Transport.IsRunning.
type RunState uint8

const (
	// RunStateUnknown means the backend cannot determine whether an image is running.
	RunStateUnknown RunState = iota
	// RunStateRunning means a toolflow image is active.
	RunStateRunning
	// RunStateNotRunning means no toolflow image is active.
	RunStateNotRunning
)

func (s RunState) String() string {
	switch s {
	case RunStateUnknown:
		return "Unknown"
	case RunStateRunning:
		return "Running"
	case RunStateNotRunning:
		return "NotRunning"
	default:
		return "Invalid"
	}
}

// Known reports whether the state is determinable.
func (s RunState) Known() bool {
	return s == RunStateRunning || s == RunStateNotRunning
}
