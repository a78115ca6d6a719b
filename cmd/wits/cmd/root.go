package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/service/launcher"
	"github.com/oshokin/wits/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// basePath is the tool base directory holding container, tools and resource.
	basePath string
	// projectDir is the user's project directory.
	projectDir string
	// settingsPath to the settings YAML file.
	settingsPath string
	// envFile to load before reading the settings.
	envFile string
	// logLevel overrides the log level.
	logLevel string
	// nonInteractive disables every prompt.
	nonInteractive bool

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "wits",
		Short: "Live-reload a web application on a TV through a debugging shell",
		Long: `Wits builds and signs a small container application that loads your
host application's files from the development machine, so changes show up on
the TV without reinstalling.

Run "wits init" once per project, then "wits start" to connect, build and
package the container.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the wits CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// execute runs the command tree with args and logs the failure.
func execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.ErrorKV(logger.WithName(ctx, "wits"), "Command failed", "error", err)
	}

	return err
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&basePath, "base", "b", "", "tool base directory (default: $WITS_BASE_PATH or the executable directory)")
	flags.StringVarP(&projectDir, "project", "p", "", "project directory (default: current directory)")
	flags.StringVarP(&settingsPath, "config", "c", "", "path to settings file (default: wits-settings.yaml in the base directory)")
	flags.StringVar(&envFile, "env-file", ".env", "path to dotenv file")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error (default: $WITS_LOG_LEVEL or info)")
	flags.BoolVar(&nonInteractive, "no-input", false, "never prompt, use the stored answers")

	rootCmd.AddCommand(initCmd, connectCmd, buildCmd, startCmd)
}

// setup loads the dotenv file and applies the log level.
func setup(_ *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	level := logLevel
	if level == "" {
		level = os.Getenv(config.EnvLogLevel)
	}

	if level != "" {
		parsed, ok := logger.ParseLogLevel(level)
		if !ok {
			return fmt.Errorf("%q: %w", level, errUnknownLogLevel)
		}

		logger.SetLevel(parsed)
	}

	return nil
}

// options builds the launcher options from the flags.
func options() (*launcher.Options, error) {
	base, err := resolveBasePath()
	if err != nil {
		return nil, err
	}

	return &launcher.Options{
		BasePath:     base,
		ProjectDir:   projectDir,
		SettingsPath: settingsPath,
		Interactive:  !nonInteractive,
	}, nil
}

func resolveBasePath() (string, error) {
	if basePath != "" {
		return basePath, nil
	}

	if v := strings.TrimSpace(os.Getenv(config.EnvBasePath)); v != "" {
		return v, nil
	}

	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable directory: %w", err)
	}

	return filepath.Dir(executable), nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}
