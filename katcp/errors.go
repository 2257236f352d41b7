package katcp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-casperfpga/transport"
)

var (
	// ErrTimeout is the KATCP specialization of transport.ErrTimeout.
	// errors.Is(err, ErrTimeout) implies errors.Is(err, transport.ErrTimeout).
	ErrTimeout = fmt.Errorf("katcp: %w", transport.ErrTimeout)

	// ErrSessionClosed indicates that the session was closed or has failed.
	// Sessions are never re-established; create a new transport instead.
	ErrSessionClosed = errors.New("katcp: session closed")

	// ErrUnsupportedProtocol indicates that the remote speaks a KATCP version older than 5.
	ErrUnsupportedProtocol = errors.New("katcp: unsupported protocol version")

	// ErrInvalidMessage indicates a line that is not a well-formed KATCP message.
	ErrInvalidMessage = errors.New("katcp: invalid message")

	// ErrEmptyMessage indicates an empty line.
	ErrEmptyMessage = errors.New("katcp: empty message")

	// ErrInvalidTransition is returned when a session state change is not allowed.
	ErrInvalidTransition = errors.New("katcp: invalid state transition")
)

// TimeoutError is raised when a KATCP action took more than its allocated timeout.
// It distinguishes "remote unreachable or slow" from every other failure kind.
type TimeoutError struct {
	Op    string
	Addr  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("katcp: %s %s: timed out after %s", e.Op, e.Addr, e.After)
}

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ReplyError reports a reply whose status is not "ok".
type ReplyError struct {
	Name string
	Code string
	Args []string
}

func newReplyError(reply *Message) *ReplyError {
	e := &ReplyError{Name: reply.Name, Code: reply.Code()}
	for i := 1; i < len(reply.Args); i++ {
		e.Args = append(e.Args, reply.Arg(i))
	}

	return e
}

func (e *ReplyError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("katcp: ?%s replied %s", e.Name, e.Code)
	}

	return fmt.Sprintf("katcp: ?%s replied %s: %s", e.Name, e.Code, strings.Join(e.Args, " "))
}

func (e *ReplyError) Unwrap() error { return transport.ErrRemote }
