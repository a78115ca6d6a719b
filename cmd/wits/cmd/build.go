package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/wits/internal/service/launcher"
	"github.com/oshokin/wits/internal/service/packager"
)

var (
	// deviceAddress overrides the stored device address.
	deviceAddress string

	// buildCmd packages the container with the stored answers.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build and sign the container package with the stored answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			opts, err := options()
			if err != nil {
				return err
			}

			opts.Address = deviceAddress

			result, err := launcher.Build(ctx, opts)
			if err != nil {
				return err
			}

			return printResult(cmd, result)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	buildCmd.Flags().StringVarP(&deviceAddress, "device", "d", "", "device address (default: stored address)")
}

func printResult(cmd *cobra.Command, result *packager.Result) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\nbuild %s, %d bytes, cid %s\n",
		result.PackagePath, result.BuildID, result.Size, result.ContentID)

	return err
}
