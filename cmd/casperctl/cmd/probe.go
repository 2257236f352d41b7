package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-casperfpga/katcp"
)

type probeResult struct {
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port"`
	KATCP bool   `json:"katcp" yaml:"katcp"`
}

func newProbeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [host]",
		Short: "Check whether a host answers as a KATCP server",
		Long: `Open a throwaway KATCP session to the host and report whether the
handshake completed within the timeout.

Examples:
  casperctl probe roach2-01
  casperctl probe 10.0.0.12 --timeout 2s -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := opts.cfg.Host
			if len(args) == 1 {
				host = args[0]
			}
			if host == "" {
				return errHostRequired
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			res := probeResult{
				Host:  host,
				Port:  opts.cfg.Port,
				KATCP: katcp.ProbeHost(ctx, host, opts.cfg.Port, opts.cfg.Timeout),
			}

			w := cmd.OutOrStdout()
			if handled, err := opts.formatOutput(w, res); handled {
				return err
			}

			printf(w, "%s:%d katcp: %s\n", res.Host, res.Port, yesNo(res.KATCP))

			return nil
		},
	}
}
