package katcp

import (
	"context"
	"time"
)

// TestHostType reports whether the device at host answers as a KATCP server on
// the well-known port within timeout.
//
// It opens a throwaway session and closes it immediately. Every failure,
// including a timeout, yields false; TestHostType never returns an error.
func TestHostType(host string, timeout time.Duration) bool {
	return ProbeHost(context.Background(), host, DefaultPort, timeout)
}

// ProbeHost is TestHostType with an explicit context and port.
func ProbeHost(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	session, err := Connect(ctx, host, port, timeout)
	if err != nil {
		return false
	}
	_ = session.Close()

	return true
}
