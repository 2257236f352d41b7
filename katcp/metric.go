package katcp

import "sync/atomic"

// SessionMetrics contains atomic metrics for a KATCP session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// RequestCount indicates the number of requests sent.
	RequestCount atomic.Uint64
	// ReplyErrCount indicates the number of replies with a status other than "ok".
	ReplyErrCount atomic.Uint64
	// TimeoutCount indicates the number of requests that timed out.
	TimeoutCount atomic.Uint64
	// InformCount indicates the number of informs received after the handshake.
	InformCount atomic.Uint64
}

func (m *SessionMetrics) incRequestCount() {
	m.RequestCount.Add(1)
}

func (m *SessionMetrics) incReplyErrCount() {
	m.ReplyErrCount.Add(1)
}

func (m *SessionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *SessionMetrics) incInformCount() {
	m.InformCount.Add(1)
}
