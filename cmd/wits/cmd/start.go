package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/wits/internal/service/launcher"
)

// startCmd runs init, connect and build in one go.
var startCmd = &cobra.Command{
	Use:   "start [device-address]",
	Short: "Prepare, connect and build in one step",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		opts, err := options()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			opts.Address = args[0]
		}

		result, err := launcher.Start(ctx, opts)
		if err != nil {
			return err
		}

		return printResult(cmd, result)
	},
}
