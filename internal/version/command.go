package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand adds `wits version [--short]` to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	var short bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the wits version",
		Long: `Shows the wits release with the commit and build time stamped in by the
release build. Use --short to print only the release, for scripts that compare
the installed tool against the container assets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line := Full()
			if short {
				line = Short()
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), line)

			return err
		},
	}

	versionCmd.Flags().BoolVarP(&short, "short", "s", false, "print only the release number")
	root.AddCommand(versionCmd)
}
