package katcp

import (
	"strings"
	"time"

	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/transport"
)

const (
	// DefaultPort is the well-known KATCP port.
	DefaultPort = 7147
	// DefaultUploadPort is the port the board listens on for ?progremote image uploads.
	DefaultUploadPort = 3000
	// DefaultUploadTimeout bounds a whole image upload, including reprogramming.
	DefaultUploadTimeout = 60 * time.Second
	// DefaultProbeTimeout is the connect timeout used by TestHostType.
	DefaultProbeTimeout = 5 * time.Second

	maxTimeout = 10 * time.Minute
)

// Config represents the configuration of a KATCP transport.
type Config struct {
	// host specifies the network address of the board.
	host string

	// port specifies the KATCP TCP port. Defaults to 7147.
	port int

	// timeout bounds the connect handshake and, when the caller's context has no
	// deadline, every request. Defaults to 10 seconds.
	timeout time.Duration

	// retries is the default number of extra ?watchdog attempts made by IsConnected.
	// Defaults to 3.
	retries int

	// uploadPort is the port passed to ?progremote. Defaults to 3000.
	uploadPort int

	// uploadTimeout bounds UploadToRAMAndProgram. Defaults to 60 seconds.
	uploadTimeout time.Duration

	// logger is the logging sink owned by the transport.
	logger logger.Logger
}

// NewConfig creates a KATCP configuration for host with default values, then applies opts.
func NewConfig(host string, opts ...Option) (*Config, error) {
	cfg := &Config{
		port:          DefaultPort,
		timeout:       transport.DefaultTimeout,
		retries:       transport.DefaultRetries,
		uploadPort:    DefaultUploadPort,
		uploadTimeout: DefaultUploadTimeout,
	}

	if err := withHost(host).apply(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = logger.New()
	}

	return cfg, nil
}

// Host returns the configured board address.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured KATCP port.
func (cfg *Config) Port() int { return cfg.port }

// Timeout returns the connect and default request timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// Retries returns the default liveness-probe retry count.
func (cfg *Config) Retries() int { return cfg.retries }

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error {
	if cfg == nil {
		return &transport.ConfigError{Field: o.name, Reason: "config is nil"}
	}

	return o.applyFunc(cfg)
}

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

func withHost(host string) Option {
	return newOptFunc("host", func(cfg *Config) error {
		host = strings.TrimSpace(host)
		if host == "" {
			return &transport.ConfigError{Field: "host", Reason: "host is required"}
		}
		if strings.ContainsAny(host, " \t/") {
			return &transport.ConfigError{Field: "host", Reason: "malformed host " + host}
		}
		cfg.host = host

		return nil
	})
}

// WithPort sets the KATCP TCP port. The port must be in range [1, 65535].
func WithPort(port int) Option {
	return newOptFunc("port", func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return &transport.ConfigError{Field: "port", Reason: "port is out of range [1, 65535]"}
		}
		cfg.port = port

		return nil
	})
}

// WithTimeout sets the connect timeout, which is also the default per-request timeout.
// It should be positive and at most 10 minutes.
func WithTimeout(d time.Duration) Option {
	return newOptFunc("timeout", func(cfg *Config) error {
		if d <= 0 || d > maxTimeout {
			return &transport.ConfigError{Field: "timeout", Reason: "timeout out of range (0, 10m]"}
		}
		cfg.timeout = d

		return nil
	})
}

// WithRetries sets the default number of extra liveness-probe attempts.
func WithRetries(n int) Option {
	return newOptFunc("retries", func(cfg *Config) error {
		if n < 0 {
			return &transport.ConfigError{Field: "retries", Reason: "retries must not be negative"}
		}
		cfg.retries = n

		return nil
	})
}

// WithUploadPort sets the port the board is asked to receive images on.
func WithUploadPort(port int) Option {
	return newOptFunc("upload port", func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return &transport.ConfigError{Field: "upload port", Reason: "port is out of range [1, 65535]"}
		}
		cfg.uploadPort = port

		return nil
	})
}

// WithUploadTimeout bounds a whole image upload.
func WithUploadTimeout(d time.Duration) Option {
	return newOptFunc("upload timeout", func(cfg *Config) error {
		if d <= 0 {
			return &transport.ConfigError{Field: "upload timeout", Reason: "timeout must be positive"}
		}
		cfg.uploadTimeout = d

		return nil
	})
}

// WithLogger sets the logging sink. When omitted, a JSON logger writing to stdout at InfoLevel is created.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("logger", func(cfg *Config) error {
		if l == nil {
			return &transport.ConfigError{Field: "logger", Reason: "logger is nil"}
		}
		cfg.logger = l

		return nil
	})
}
