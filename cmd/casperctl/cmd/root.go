// Package cmd implements the casperctl CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-casperfpga/internal/config"
	"github.com/arloliu/go-casperfpga/katcp"
	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/remotepcie"
	"github.com/arloliu/go-casperfpga/transport"
)

// Version is set at build time.
var Version = "0.1.0"

// rootOptions holds the global flags and the state derived from them.
type rootOptions struct {
	configPath string
	transport  string
	host       string
	uri        string
	port       int
	timeout    time.Duration
	retries    int
	output     string
	logLevel   string

	cfg    *config.Config
	logger logger.Logger
}

// NewRootCommand builds the casperctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "casperctl",
		Short: "Control CASPER FPGA boards over KATCP or a remote PCIe gateway",
		Long: `casperctl reads and writes the memory-mapped devices of a CASPER FPGA board,
lists its devices, reports its state and programs it with an .fpg image.

Boards are reached either directly over KATCP (port 7147) or through a REST
gateway fronting a PCIe-attached card.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML)")
	flags.StringVarP(&opts.transport, "transport", "t", "", "Transport: katcp, remotepcie, auto")
	flags.StringVarP(&opts.host, "host", "H", "", "Board host name or address")
	flags.StringVar(&opts.uri, "uri", "", "Gateway base URI for the remotepcie transport")
	flags.IntVarP(&opts.port, "port", "p", katcp.DefaultPort, "KATCP port")
	flags.DurationVar(&opts.timeout, "timeout", transport.DefaultTimeout, "Connect and request timeout")
	flags.IntVar(&opts.retries, "retries", transport.DefaultRetries, "Liveness probe retries")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newProbeCommand(opts),
		newStatusCommand(opts),
		newListDevCommand(opts),
		newReadCommand(opts),
		newWriteCommand(opts),
		newProgramCommand(opts),
	)

	return root
}

// load reads the configuration file and applies the flags the user set explicitly.
func (o *rootOptions) load(cmd *cobra.Command) error {
	switch o.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	cfg, err := config.Read(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = o.transport
	}
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("uri") {
		cfg.URI = o.uri
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if flags.Changed("retries") {
		retries := o.retries
		cfg.Retries = &retries
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}

	o.cfg = cfg
	o.logger = cfg.NewLogger(cmd.ErrOrStderr())

	return nil
}

// openTransport connects to the configured board.
//
// With transport "auto" the host must answer as a KATCP server; there is no
// fallback to the gateway.
func (o *rootOptions) openTransport(ctx context.Context) (transport.Transport, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	kind := o.cfg.Transport
	if kind == config.TransportAuto {
		if !katcp.ProbeHost(ctx, o.cfg.Host, o.cfg.Port, o.cfg.Timeout) {
			return nil, fmt.Errorf("host %s does not answer KATCP on port %d; set the transport explicitly", o.cfg.Host, o.cfg.Port)
		}
		kind = config.TransportKATCP
	}

	switch kind {
	case config.TransportKATCP:
		kcfg, err := o.cfg.KATCPConfig(o.logger)
		if err != nil {
			return nil, err
		}
		return katcp.Dial(ctx, kcfg)

	default:
		rcfg, err := o.cfg.RemotePCIeConfig(o.logger)
		if err != nil {
			return nil, err
		}
		return remotepcie.New(ctx, rcfg)
	}
}

// withTransport opens a transport, runs fn and closes it.
func (o *rootOptions) withTransport(cmd *cobra.Command, fn func(ctx context.Context, tr transport.Transport) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tr, err := o.openTransport(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	return fn(ctx, tr)
}
