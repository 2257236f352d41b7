package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-casperfpga/transport"
)

var errHostRequired = errors.New("host is required: pass it as an argument, with --host or in the config file")

type statusResult struct {
	Host       string `json:"host" yaml:"host"`
	Transport  string `json:"transport" yaml:"transport"`
	Connected  bool   `json:"connected" yaml:"connected"`
	Programmed bool   `json:"programmed" yaml:"programmed"`
	Running    string `json:"running" yaml:"running"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the board is connected, programmed and running",
		Long: `Connect to the board and report its liveness, whether an image is
loaded and whether the image is running.

Examples:
  casperctl status --host roach2-01
  casperctl status -t remotepcie --uri http://gateway:5000 --host pcie0 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withTransport(cmd, func(ctx context.Context, tr transport.Transport) error {
				connected, err := tr.IsConnected(ctx)
				if err != nil {
					return err
				}
				programmed, err := tr.IsProgrammed(ctx)
				if err != nil {
					return err
				}
				running, err := tr.IsRunning(ctx)
				if err != nil {
					return err
				}

				res := statusResult{
					Host:       tr.Host(),
					Transport:  tr.Kind(),
					Connected:  connected,
					Programmed: programmed,
					Running:    running.String(),
				}

				w := cmd.OutOrStdout()
				if handled, err := opts.formatOutput(w, res); handled {
					return err
				}

				tw := newTable(w)
				printf(tw, "HOST\tTRANSPORT\tCONNECTED\tPROGRAMMED\tRUNNING\n")
				runningText := res.Running
				if !running.Known() {
					runningText = dimFmt(runningText)
				}
				printf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Host, res.Transport, yesNo(connected), yesNo(programmed), runningText)

				return tw.Flush()
			})
		},
	}
}
