// Package config loads the casperctl configuration file.
//
// A configuration names one board and the transport used to reach it:
//
//	transport: katcp        # katcp | remotepcie | auto
//	host: roach2-01
//	port: 7147
//	timeout: 10s
//	retries: 3
//	log:
//	  level: info
//	  console: true
//
// For the gateway transport, uri and instance_id are used as well. The CASPER_HOST,
// CASPER_URI and CASPER_TRANSPORT environment variables override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-casperfpga/katcp"
	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/remotepcie"
	"github.com/arloliu/go-casperfpga/transport"
)

// Transport kinds.
const (
	TransportKATCP      = "katcp"
	TransportRemotePCIe = "remotepcie"
	TransportAuto       = "auto"
)

// Environment variables overriding the file.
const (
	EnvHost      = "CASPER_HOST"
	EnvURI       = "CASPER_URI"
	EnvTransport = "CASPER_TRANSPORT"
)

// Config is the casperctl configuration.
type Config struct {
	Transport  string        `yaml:"transport"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port,omitempty"`
	URI        string        `yaml:"uri,omitempty"`
	InstanceID string        `yaml:"instance_id,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    *int          `yaml:"retries,omitempty"`
	Log        LogConfig     `yaml:"log"`
}

// LogConfig configures the logger handed to the transports.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	retries := transport.DefaultRetries

	return &Config{
		Transport: TransportAuto,
		Port:      katcp.DefaultPort,
		Timeout:   transport.DefaultTimeout,
		Retries:   &retries,
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads the configuration with Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read decodes the file at path on top of Default and applies environment
// overrides, without validating. An empty path skips the file.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &transport.ConfigError{Field: "config file", Reason: path, Err: err}
		}
		if err := cfg.decode(data); err != nil {
			return nil, &transport.ConfigError{Field: "config file", Reason: path, Err: err}
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	return cfg, nil
}

func (cfg *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// ApplyEnv overrides fields from the environment through lookup.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHost); ok && v != "" {
		cfg.Host = v
	}
	if v, ok := lookup(EnvURI); ok && v != "" {
		cfg.URI = v
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		cfg.Transport = v
	}
}

// Validate checks that the configuration can build a transport.
func (cfg *Config) Validate() error {
	switch cfg.Transport {
	case TransportKATCP, TransportAuto:
	case TransportRemotePCIe:
		if cfg.URI == "" {
			return &transport.ConfigError{Field: "uri", Reason: "uri is required for the remotepcie transport"}
		}
	default:
		return &transport.ConfigError{Field: "transport", Reason: fmt.Sprintf("unknown transport %q", cfg.Transport)}
	}

	if cfg.Host == "" {
		return &transport.ConfigError{Field: "host", Reason: "host is required"}
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &transport.ConfigError{Field: "port", Reason: "port is out of range [1, 65535]"}
	}
	if cfg.Timeout <= 0 {
		return &transport.ConfigError{Field: "timeout", Reason: "timeout must be positive"}
	}
	if cfg.Retries != nil && *cfg.Retries < 0 {
		return &transport.ConfigError{Field: "retries", Reason: "retries must not be negative"}
	}

	return nil
}

// NewLogger builds the logger described by the log section, writing to w.
func (cfg *Config) NewLogger(w io.Writer) logger.Logger {
	return logger.New(
		logger.WithOutput(w),
		logger.WithLevel(logger.ParseLevel(cfg.Log.Level)),
		logger.WithConsole(cfg.Log.Console),
	)
}

// KATCPConfig builds the katcp transport configuration.
func (cfg *Config) KATCPConfig(l logger.Logger) (*katcp.Config, error) {
	opts := []katcp.Option{
		katcp.WithPort(cfg.Port),
		katcp.WithTimeout(cfg.Timeout),
		katcp.WithLogger(l),
	}
	if cfg.Retries != nil {
		opts = append(opts, katcp.WithRetries(*cfg.Retries))
	}

	return katcp.NewConfig(cfg.Host, opts...)
}

// RemotePCIeConfig builds the gateway transport configuration.
func (cfg *Config) RemotePCIeConfig(l logger.Logger) (*remotepcie.Config, error) {
	opts := []remotepcie.Option{
		remotepcie.WithTimeout(cfg.Timeout),
		remotepcie.WithLogger(l),
	}
	if cfg.Retries != nil {
		opts = append(opts, remotepcie.WithRetries(*cfg.Retries))
	}
	if cfg.InstanceID != "" {
		opts = append(opts, remotepcie.WithInstanceID(cfg.InstanceID))
	}

	return remotepcie.NewConfig(cfg.URI, cfg.Host, opts...)
}
