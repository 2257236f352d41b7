package remotepcie

import "sync/atomic"

// ClientMetrics contains atomic metrics for a gateway transport.
type ClientMetrics struct {
	// RequestCount indicates the number of HTTP requests sent.
	RequestCount atomic.Uint64
	// RemoteErrCount indicates the number of responses with a status other than 200.
	RemoteErrCount atomic.Uint64
	// TimeoutCount indicates the number of requests that timed out.
	TimeoutCount atomic.Uint64
	// BytesRead indicates the number of device bytes read.
	BytesRead atomic.Uint64
	// BytesWritten indicates the number of device bytes written.
	BytesWritten atomic.Uint64
}

func (m *ClientMetrics) incRequestCount() {
	m.RequestCount.Add(1)
}

func (m *ClientMetrics) incRemoteErrCount() {
	m.RemoteErrCount.Add(1)
}

func (m *ClientMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ClientMetrics) addBytesRead(n int) {
	m.BytesRead.Add(uint64(n))
}

func (m *ClientMetrics) addBytesWritten(n int) {
	m.BytesWritten.Add(uint64(n))
}
