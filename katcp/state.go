package katcp

import "sync/atomic"

// SessionState is the lifecycle state of a KATCP session.
type SessionState uint32

const (
	UnconnectedState SessionState = iota
	ConnectingState
	ConnectedState
	ClosedState
	FailedState
)

func (s SessionState) String() string {
	switch s {
	case UnconnectedState:
		return "Unconnected"
	case ConnectingState:
		return "Connecting"
	case ConnectedState:
		return "Connected"
	case ClosedState:
		return "Closed"
	case FailedState:
		return "Failed"
	default:
		return "Unknown"
	}
}

// AtomicSessionState is a SessionState that only moves along
// Unconnected -> Connecting -> Connected -> (Closed | Failed).
type AtomicSessionState struct {
	state atomic.Uint32
}

// Get returns the current state.
func (st *AtomicSessionState) Get() SessionState {
	return SessionState(st.state.Load())
}

func (st *AtomicSessionState) String() string {
	return st.Get().String()
}

func (st *AtomicSessionState) IsConnected() bool {
	return st.Get() == ConnectedState
}

// IsTerminal reports whether the session can no longer be used.
func (st *AtomicSessionState) IsTerminal() bool {
	s := st.Get()
	return s == ClosedState || s == FailedState
}

func (st *AtomicSessionState) ToConnecting() bool {
	return st.state.CompareAndSwap(uint32(UnconnectedState), uint32(ConnectingState))
}

func (st *AtomicSessionState) ToConnected() bool {
	return st.state.CompareAndSwap(uint32(ConnectingState), uint32(ConnectedState))
}

// ToFailed moves a connecting or connected session to Failed.
func (st *AtomicSessionState) ToFailed() bool {
	if st.state.CompareAndSwap(uint32(ConnectingState), uint32(FailedState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(ConnectedState), uint32(FailedState))
}

// ToClosed closes the session from any non-terminal state. Closing a closed session succeeds.
func (st *AtomicSessionState) ToClosed() bool {
	for {
		cur := st.Get()
		switch cur {
		case ClosedState:
			return true
		case FailedState:
			return false
		}
		if st.state.CompareAndSwap(uint32(cur), uint32(ClosedState)) {
			return true
		}
	}
}
