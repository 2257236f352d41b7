package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-casperfpga/transport"
)

type readResult struct {
	Device string `json:"device" yaml:"device"`
	Offset int    `json:"offset" yaml:"offset"`
	Size   int    `json:"size" yaml:"size"`
	Data   string `json:"data" yaml:"data"`
}

func newListDevCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listdev",
		Short: "List the memory-mapped devices of the running image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withTransport(cmd, func(ctx context.Context, tr transport.Transport) error {
				names, err := tr.ListDev(ctx)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if handled, err := opts.formatOutput(w, names); handled {
					return err
				}

				for _, name := range names {
					printf(w, "%s\n", name)
				}

				return nil
			})
		},
	}
}

func newReadCommand(opts *rootOptions) *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "read <device> <size>",
		Short: "Read bytes from a device",
		Long: `Read size bytes from a device starting at --offset and print them as a hex dump.

Examples:
  casperctl read sys_scratchpad 4 --host roach2-01
  casperctl read adc_snap_bram 1024 --offset 4096 -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", args[1], err)
			}

			return opts.withTransport(cmd, func(ctx context.Context, tr transport.Transport) error {
				data, err := tr.Read(ctx, args[0], size, offset)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				res := readResult{Device: args[0], Offset: offset, Size: len(data), Data: hex.EncodeToString(data)}
				if handled, err := opts.formatOutput(w, res); handled {
					return err
				}

				_, err = w.Write([]byte(hex.Dump(data)))

				return err
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Byte offset into the device")

	return cmd
}

func newWriteCommand(opts *rootOptions) *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "write <device> <hex-data>",
		Short: "Write bytes to a device without read-back",
		Long: `Write hex-encoded data to a device at --offset. Both the offset and the data
length must be multiples of 4 bytes.

Examples:
  casperctl write sys_scratchpad deadbeef --host roach2-01
  casperctl write version_type 02000001 -t remotepcie --uri http://gateway:5000 --host pcie0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
			if err != nil {
				return fmt.Errorf("invalid hex data: %w", err)
			}
			if err := transport.ValidateWrite(args[0], data, offset); err != nil {
				return err
			}

			return opts.withTransport(cmd, func(ctx context.Context, tr transport.Transport) error {
				if err := tr.BlindWrite(ctx, args[0], data, offset); err != nil {
					return err
				}

				printf(cmd.OutOrStdout(), "wrote %d bytes to %s at offset %d\n", len(data), args[0], offset)

				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Byte offset into the device")

	return cmd
}
