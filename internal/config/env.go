package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognized by wits.
const (
	EnvBasePath      = "WITS_BASE_PATH"
	EnvBridgePath    = "WITS_SDB_PATH"
	EnvSignerCommand = "WITS_SIGNER_COMMAND"
	EnvLogLevel      = "WITS_LOG_LEVEL"
	EnvProxyServer   = "WITS_PROXY_SERVER"
)

// LoadDotEnv loads environment variables from path. Missing files are ignored
// and variables already present in the environment win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// ApplyEnv overrides settings from the environment and revalidates them.
func ApplyEnv(settings *Settings) error {
	if settings == nil {
		return errSettingsNotSet
	}

	if v := strings.TrimSpace(os.Getenv(EnvBridgePath)); v != "" {
		settings.BridgePath = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvSignerCommand)); v != "" {
		settings.Signer.Mode = SignerModeCommand
		settings.Signer.Command = strings.Fields(v)
	}

	if v := strings.TrimSpace(os.Getenv(EnvProxyServer)); v != "" {
		settings.ProxyServer = v
	}

	return Validate(settings)
}
