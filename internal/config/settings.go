package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/wits/internal/domain/wits"
)

// Settings holds tool-level configuration.
type Settings struct {
	// BridgePath is the bridge tool executable; relative paths resolve against the tools directory.
	BridgePath string `yaml:"bridge_path"`
	// ConnectPort is the port appended to device addresses on connect.
	ConnectPort int `yaml:"connect_port"`
	// PackageName is the file name of the published package.
	PackageName string `yaml:"package_name"`
	// Signer selects and configures the signing collaborator.
	Signer SignerSettings `yaml:"signer"`
	// Assets maps prebuilt asset names to their download URLs.
	Assets map[string]string `yaml:"assets"`
	// ProxyServer is used for asset downloads when set.
	ProxyServer string `yaml:"proxy_server"`
	// Timeout bounds asset downloads.
	Timeout time.Duration `yaml:"timeout"`
}

// SignerSettings configures the signer.
type SignerSettings struct {
	// Mode is SignerModeProfile or SignerModeCommand.
	Mode string `yaml:"mode"`
	// Command is the external signer invocation used in command mode.
	Command []string `yaml:"command"`
}

const (
	// DefaultSettingsFilename is the default filename for tool settings.
	DefaultSettingsFilename = "wits-settings.yaml"

	// DefaultConnectPort is the bridge connect port of TV-class devices.
	DefaultConnectPort = 26101

	// DefaultPackageName is the published package file name.
	DefaultPackageName = "Wits.wgt"

	// DefaultTimeout bounds asset downloads.
	DefaultTimeout = 5 * time.Minute

	// DefaultFilePermissions is the permission used for files wits writes.
	DefaultFilePermissions = 0o600

	// SignerModeProfile signs in-process from a signing profile.
	SignerModeProfile = "profile"
	// SignerModeCommand delegates signing to an external command.
	SignerModeCommand = "command"

	// AssetContainer is the debugging shell asset.
	AssetContainer = "container"
	// AssetTools is the bridge tool bundle asset.
	AssetTools = "tools"
	// AssetResource is the certificate and resource asset.
	AssetResource = "resource"

	baseBridgeExecutable = "sdb"
	assetBaseURL         = "https://github.com/Samsung/Wits/raw/master/archive/"
)

var (
	errSettingsNotSet     = errors.New("settings are not set")
	errUnknownSignerMode  = errors.New("unknown signer mode")
	errSignerCommandEmpty = errors.New("signer command must be provided in command mode")
	errBadPackageName     = errors.New("package name must be a plain file name")
	errBadConnectPort     = errors.New("connect port out of range")
)

// DefaultAssets returns the download URL of every prebuilt asset.
func DefaultAssets() map[string]string {
	return map[string]string{
		AssetContainer: assetBaseURL + AssetContainer + ".zip",
		AssetTools:     assetBaseURL + AssetTools + ".zip",
		AssetResource:  assetBaseURL + AssetResource + ".zip",
	}
}

// DefaultSettings returns validated settings with every default applied.
func DefaultSettings() *Settings {
	s := new(Settings)
	_ = Validate(s) //nolint:errcheck // Defaults always validate.

	return s
}

// LoadSettings reads settings from path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w: %w", wits.ErrConfigRead, err)
	}

	var settings Settings
	if err = yaml.Unmarshal(contents, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w: %w", wits.ErrConfigRead, err)
	}

	if err = Validate(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// SaveSettings writes settings to path.
func SaveSettings(path string, settings *Settings) error {
	if settings == nil {
		return errSettingsNotSet
	}

	if path == "" {
		path = DefaultSettingsFilename
	}

	if err := Validate(settings); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the settings for consistency.
func Validate(settings *Settings) error {
	if settings == nil {
		return errSettingsNotSet
	}

	if settings.BridgePath == "" {
		settings.BridgePath = BridgeExecutable()
	}

	if settings.ConnectPort == 0 {
		settings.ConnectPort = DefaultConnectPort
	}

	if settings.ConnectPort < 0 || settings.ConnectPort > 65535 {
		return fmt.Errorf("%d: %w", settings.ConnectPort, errBadConnectPort)
	}

	if settings.PackageName == "" {
		settings.PackageName = DefaultPackageName
	}

	if filepath.Base(settings.PackageName) != settings.PackageName {
		return fmt.Errorf("%q: %w", settings.PackageName, errBadPackageName)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if err := validateSigner(&settings.Signer); err != nil {
		return err
	}

	assets := DefaultAssets()
	maps.Copy(assets, settings.Assets)
	settings.Assets = assets

	for name, rawURL := range settings.Assets {
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid URL for asset %s: %w", name, err)
		}
	}

	if settings.ProxyServer != "" {
		if _, err := url.ParseRequestURI(settings.ProxyServer); err != nil {
			return fmt.Errorf("invalid proxy server: %w", err)
		}
	}

	return nil
}

func validateSigner(signer *SignerSettings) error {
	signer.Mode = strings.ToLower(strings.TrimSpace(signer.Mode))
	if signer.Mode == "" {
		signer.Mode = SignerModeProfile
	}

	switch signer.Mode {
	case SignerModeProfile:
		return nil
	case SignerModeCommand:
		if len(signer.Command) == 0 || strings.TrimSpace(signer.Command[0]) == "" {
			return errSignerCommandEmpty
		}

		return nil
	default:
		return fmt.Errorf("%q: %w", signer.Mode, errUnknownSignerMode)
	}
}

// ResolveBridgePath returns the bridge executable, resolving relative paths against toolsDir.
func (s *Settings) ResolveBridgePath(toolsDir string) string {
	if filepath.IsAbs(s.BridgePath) {
		return s.BridgePath
	}

	return filepath.Join(toolsDir, s.BridgePath)
}

// BridgeExecutable returns the platform-specific bridge tool file name.
func BridgeExecutable() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return baseBridgeExecutable + ".exe"
	}

	return baseBridgeExecutable
}
