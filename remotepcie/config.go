package remotepcie

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/transport"
)

const (
	// ProtocolVersion is the gateway API version this package speaks.
	ProtocolVersion = "1.0.0"
	// DefaultInstanceID is sent in X-Instance-ID when no instance id is configured.
	DefaultInstanceID = "0"
	// DefaultUploadTimeout bounds UploadToRAMAndProgram.
	DefaultUploadTimeout = 5 * time.Minute

	maxTimeout = 10 * time.Minute
)

// Config represents the configuration of a gateway transport.
type Config struct {
	// uri is the gateway base URI, without a trailing slash.
	uri string

	// host names the board behind the gateway.
	host string

	// instanceID identifies this client to the gateway. Defaults to "0".
	instanceID string

	// timeout is the default liveness-probe timeout and bounds every request
	// whose context carries no deadline. Defaults to 10 seconds.
	timeout time.Duration

	// retries is the default liveness-probe retry count. Defaults to 3.
	retries int

	// uploadTimeout bounds an image upload. Defaults to 5 minutes.
	uploadTimeout time.Duration

	httpClient *http.Client
	logger     logger.Logger
}

// NewConfig creates a gateway configuration for the board host behind uri, then applies opts.
func NewConfig(uri string, host string, opts ...Option) (*Config, error) {
	cfg := &Config{
		instanceID:    DefaultInstanceID,
		timeout:       transport.DefaultTimeout,
		retries:       transport.DefaultRetries,
		uploadTimeout: DefaultUploadTimeout,
	}

	if err := withURI(uri).apply(cfg); err != nil {
		return nil, err
	}
	if err := withHost(host).apply(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}
	if cfg.logger == nil {
		cfg.logger = logger.New()
	}

	return cfg, nil
}

// URI returns the gateway base URI.
func (cfg *Config) URI() string { return cfg.uri }

// Host returns the board name.
func (cfg *Config) Host() string { return cfg.host }

// InstanceID returns the client instance id.
func (cfg *Config) InstanceID() string { return cfg.instanceID }

// Timeout returns the default request and probe timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// Retries returns the default probe retry count.
func (cfg *Config) Retries() int { return cfg.retries }

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

func withURI(uri string) Option {
	return newOptFunc("uri", func(cfg *Config) error {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			return &transport.ConfigError{Field: "uri", Reason: "uri argument not supplied"}
		}

		u, err := url.Parse(uri)
		if err != nil {
			return &transport.ConfigError{Field: "uri", Reason: "malformed uri", Err: err}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &transport.ConfigError{Field: "uri", Reason: "uri must be an absolute http(s) URL"}
		}
		cfg.uri = strings.TrimRight(uri, "/")

		return nil
	})
}

func withHost(host string) Option {
	return newOptFunc("host", func(cfg *Config) error {
		host = strings.TrimSpace(host)
		if host == "" {
			return &transport.ConfigError{Field: "host", Reason: "host is required"}
		}
		if strings.Contains(host, "/") {
			return &transport.ConfigError{Field: "host", Reason: "malformed host " + host}
		}
		cfg.host = host

		return nil
	})
}

// WithInstanceID sets the id sent to the gateway in the X-Instance-ID header.
func WithInstanceID(id string) Option {
	return newOptFunc("instance id", func(cfg *Config) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return &transport.ConfigError{Field: "instance id", Reason: "instance id must not be empty"}
		}
		cfg.instanceID = id

		return nil
	})
}

// WithTimeout sets the default probe timeout, which also bounds requests without a context deadline.
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

// WithHTTPClient sets the HTTP client used to reach the gateway.
func WithHTTPClient(c *http.Client) Option {
	return newOptFunc("http client", func(cfg *Config) error {
		if c == nil {
			return &transport.ConfigError{Field: "http client", Reason: "http client is nil"}
		}
		cfg.httpClient = c

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
