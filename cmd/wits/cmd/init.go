package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/wits/internal/service/launcher"
)

// initCmd prepares the project and downloads the prebuilt assets.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the project and collect the connection answers",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		opts, err := options()
		if err != nil {
			return err
		}

		return launcher.Init(ctx, opts)
	},
}
