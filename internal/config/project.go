package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/wits/internal/domain/wits"
)

// ProjectConfig mirrors .witsconfig.json. The file is JSON; it is decoded with
// yaml.v3 since every JSON document is valid YAML.
type ProjectConfig struct {
	ConnectionInfo *ConnectionInfo `json:"connectionInfo,omitempty" yaml:"connectionInfo,omitempty"`
	ProfileInfo    *ProfileInfo    `json:"profileInfo,omitempty"    yaml:"profileInfo,omitempty"`
	OptionalInfo   *OptionalInfo   `json:"optionalInfo,omitempty"   yaml:"optionalInfo,omitempty"`
}

// ConnectionInfo holds the device and host connection answers.
type ConnectionInfo struct {
	RecentlyBaseAppPath string `json:"recentlyBaseAppPath" yaml:"recentlyBaseAppPath"`
	Width               string `json:"width"               yaml:"width"`
	DeviceIP            string `json:"deviceIp"            yaml:"deviceIp"`
	HostIP              string `json:"hostIp"              yaml:"hostIp"`
	SocketPort          int    `json:"socketPort"          yaml:"socketPort"`
	IsDebugMode         bool   `json:"isDebugMode"         yaml:"isDebugMode"`
}

// ProfileInfo references the signing profile.
type ProfileInfo struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// OptionalInfo holds optional network settings.
type OptionalInfo struct {
	ProxyServer string `json:"proxyServer" yaml:"proxyServer"`
}

// Project config keys that mark a file as populated.
const (
	keyProfileInfo    = "profileInfo"
	keyConnectionInfo = "connectionInfo"
	keyOptionalInfo   = "optionalInfo"
)

// IsPopulated reports whether data is a project config worth keeping: valid
// JSON holding both profileInfo and connectionInfo, or optionalInfo.
func IsPopulated(data []byte) bool {
	if strings.TrimSpace(string(data)) == "" {
		return false
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}

	_, hasProfile := raw[keyProfileInfo]
	_, hasConnection := raw[keyConnectionInfo]
	_, hasOptional := raw[keyOptionalInfo]

	return (hasProfile && hasConnection) || hasOptional
}

// LoadProject reads the project config. An empty file yields an empty config.
func LoadProject(path string) (*ProjectConfig, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read project config: %w: %w", wits.ErrConfigRead, err)
	}

	cfg := new(ProjectConfig)
	if strings.TrimSpace(string(contents)) == "" {
		return cfg, nil
	}

	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("decode project config: %w: %w", wits.ErrConfigRead, err)
	}

	return cfg, nil
}

// LoadProjectOrEmpty is LoadProject that treats a missing file as empty.
func LoadProjectOrEmpty(path string) (*ProjectConfig, error) {
	cfg, err := LoadProject(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return new(ProjectConfig), nil
	}

	return cfg, err
}

// SaveProject writes the project config as indented JSON.
func SaveProject(path string, cfg *ProjectConfig) error {
	if cfg == nil {
		cfg = new(ProjectConfig)
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal project config: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), append(data, '\n'), DefaultFilePermissions); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}

	return nil
}

// Answers converts the stored values into UserAnswers.
func (c *ProjectConfig) Answers() wits.UserAnswers {
	var answers wits.UserAnswers

	if c == nil {
		return answers
	}

	if ci := c.ConnectionInfo; ci != nil {
		answers.BaseAppPath = ci.RecentlyBaseAppPath
		answers.HostIP = ci.HostIP
		answers.SocketPort = ci.SocketPort
		answers.Width = ci.Width
	}

	if c.ProfileInfo != nil {
		answers.ProfilePath = c.ProfileInfo.Path
	}

	return answers
}

// DeviceIP returns the stored device address, if any.
func (c *ProjectConfig) DeviceIP() string {
	if c == nil || c.ConnectionInfo == nil {
		return ""
	}

	return c.ConnectionInfo.DeviceIP
}

// ProxyServer returns the stored proxy server, if any.
func (c *ProjectConfig) ProxyServer() string {
	if c == nil || c.OptionalInfo == nil {
		return ""
	}

	return c.OptionalInfo.ProxyServer
}

// Remember stores answers and the device address for the next run.
func (c *ProjectConfig) Remember(answers wits.UserAnswers, deviceIP string) {
	if c.ConnectionInfo == nil {
		c.ConnectionInfo = new(ConnectionInfo)
	}

	c.ConnectionInfo.RecentlyBaseAppPath = answers.BaseAppPath
	c.ConnectionInfo.HostIP = answers.HostIP
	c.ConnectionInfo.SocketPort = answers.SocketPort
	c.ConnectionInfo.Width = answers.Width
	c.ConnectionInfo.DeviceIP = deviceIP

	if c.ProfileInfo == nil {
		c.ProfileInfo = new(ProfileInfo)
	}

	c.ProfileInfo.Path = answers.ProfilePath
	if c.ProfileInfo.Name == "" {
		c.ProfileInfo.Name = strings.TrimSuffix(filepath.Base(answers.ProfilePath), filepath.Ext(answers.ProfilePath))
	}
}
