package transport

import (
	"context"
	"time"
)

const (
	// DefaultTimeout is the per-operation timeout used when a backend is not configured otherwise.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the liveness-probe retry count used when a backend is not configured otherwise.
	DefaultRetries = 3
	// WordSize is the register word width in bytes. Blind writes must be aligned to it.
	WordSize = 4
	// ImageExtension is the required file extension of reconfiguration images.
	ImageExtension = ".fpg"
)

// Transport is the capability set every backend implements.
//
// A Transport is owned by the caller that created it and is not safe for
// concurrent use by multiple callers; create one instance per caller instead.
type Transport interface {
	// Host returns the board address this transport talks to.
	Host() string

	// Kind names the backend, such as "katcp" or "remotepcie".
	Kind() string

	// IsConnected probes whether the board is reachable and responding.
	// Probe options override the transport's default timeout and retry count.
	IsConnected(ctx context.Context, opts ...ProbeOption) (bool, error)

	// IsProgrammed reports whether the board currently hosts a loaded image.
	IsProgrammed(ctx context.Context) (bool, error)

	// IsRunning reports whether a toolflow image is active.
	// Backends that cannot determine it return RunStateUnknown.
	IsRunning(ctx context.Context) (RunState, error)

	// Read returns exactly size bytes read from the named device starting at offset.
	Read(ctx context.Context, device string, size int, offset int) ([]byte, error)

	// BlindWrite writes data to the named device at offset without read-back verification.
	// Misaligned requests are rejected before any network activity.
	BlindWrite(ctx context.Context, device string, data []byte, offset int) error

	// ListDev returns the names of the devices known to the remote side, in remote order.
	ListDev(ctx context.Context) ([]string, error)

	// UploadToRAMAndProgram transfers a reconfiguration image and triggers reprogramming.
	// It never panics and never returns a bare error: the outcome and its cause travel in the Result.
	UploadToRAMAndProgram(ctx context.Context, imagePath string) Result[bool]

	// Close releases the transport's connection. Close is idempotent.
	Close() error
}

// ProbeConfig holds the effective parameters of a liveness probe.
type ProbeConfig struct {
	Timeout time.Duration
	Retries int
}

// ProbeOption overrides a liveness-probe parameter.
type ProbeOption func(*ProbeConfig)

// WithProbeTimeout overrides the timeout of each probe attempt.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(c *ProbeConfig) { c.Timeout = d }
}

// WithProbeRetries overrides how many extra attempts a probe makes after a failure.
func WithProbeRetries(n int) ProbeOption {
	return func(c *ProbeConfig) { c.Retries = n }
}

// NewProbeConfig applies opts on top of the transport defaults.
// Negative values from options are clamped to zero.
func NewProbeConfig(timeout time.Duration, retries int, opts ...ProbeOption) ProbeConfig {
	cfg := ProbeConfig{Timeout: timeout, Retries: retries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return cfg
}
