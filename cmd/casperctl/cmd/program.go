package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-casperfpga/transport"
)

type programResult struct {
	Host    string `json:"host" yaml:"host"`
	Image   string `json:"image" yaml:"image"`
	OK      bool   `json:"ok" yaml:"ok"`
	Elapsed string `json:"elapsed" yaml:"elapsed"`
}

func newProgramCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "program <image.fpg>",
		Short: "Upload an .fpg image to the board and program it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := transport.ValidateImagePath(args[0]); err != nil {
				return err
			}

			return opts.withTransport(cmd, func(ctx context.Context, tr transport.Transport) error {
				start := time.Now()
				res := tr.UploadToRAMAndProgram(ctx, args[0])
				if res.Err != nil {
					return res.Err
				}

				out := programResult{
					Host:    tr.Host(),
					Image:   args[0],
					OK:      res.Value,
					Elapsed: time.Since(start).Round(time.Millisecond).String(),
				}

				w := cmd.OutOrStdout()
				if handled, err := opts.formatOutput(w, out); handled {
					return err
				}

				printf(w, "%s programmed with %s: %s (%s)\n", out.Host, out.Image, yesNo(out.OK), out.Elapsed)

				return nil
			})
		},
	}
}
