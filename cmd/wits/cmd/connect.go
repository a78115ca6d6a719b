package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/wits/internal/service/launcher"
)

// defaultTrustWait bounds how long connect waits for the certificate push.
const defaultTrustWait = 15 * time.Second

var (
	// trustWait is how long connect waits for the certificate push.
	trustWait time.Duration

	// connectCmd resolves the target device and remembers it.
	connectCmd = &cobra.Command{
		Use:   "connect [device-address]",
		Short: "Connect to a TV and remember it for the next builds",
		Long: `Connects to the TV at device-address, or the stored address when omitted.

Loopback and emulator addresses skip the network connect and only list the
attached devices. The resolved device is stored for "wits build".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			opts, err := options()
			if err != nil {
				return err
			}

			// Use device address argument if provided, otherwise rely on project config.
			if len(args) > 0 {
				opts.Address = args[0]
			}

			opts.TrustWait = trustWait

			info, err := launcher.Connect(ctx, opts)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.DeviceName, info.AppInstallPath)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	connectCmd.Flags().DurationVar(&trustWait, "trust-wait", defaultTrustWait,
		"how long to wait for the certificate push before exiting (0 to skip)")
}
