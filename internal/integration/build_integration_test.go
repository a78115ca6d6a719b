package integration

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/repository/session"
	"github.com/oshokin/wits/internal/service/launcher"
)

// prepared initializes f and stores answers targeting the fake TV.
func prepared(t *testing.T, f *fixture) {
	t.Helper()

	require.NoError(t, launcher.Init(context.Background(), &launcher.Options{
		BasePath:     f.ws.Base,
		ProjectDir:   f.ws.ProjectDir,
		SettingsPath: f.settingsPath,
	}))

	require.NoError(t, config.SaveProject(f.ws.ProjectConfigPath(), &config.ProjectConfig{
		ConnectionInfo: &config.ConnectionInfo{
			RecentlyBaseAppPath: f.appDir,
			HostIP:              "192.168.0.5",
			SocketPort:          8498,
			Width:               "1920",
			DeviceIP:            "192.168.0.10",
		},
		ProfileInfo: &config.ProfileInfo{Name: "dev", Path: "profiles.xml"},
	}))
}

// TestBuild_UsesStoredDevice checks that a stored session for the same
// address skips the bridge tool entirely.
func TestBuild_UsesStoredDevice(t *testing.T) {
	t.Parallel()

	// Setup test environment with a stored session.
	f := newFixture(t)
	prepared(t, f)

	repo := session.NewFileRepository(f.ws.SessionPath())
	require.NoError(t, repo.Save(context.Background(), &session.Record{
		Device:      wits.DeviceInfo{DeviceName: "192.168.0.10:26101", AppInstallPath: "/opt/usr/apps/tmp/"},
		Address:     "192.168.0.10",
		ConnectedAt: time.Now().UTC(),
	}))

	bridge := &fakeBridge{}

	// Build the package.
	result, err := launcher.Build(context.Background(), &launcher.Options{
		BasePath:     f.ws.Base,
		ProjectDir:   f.ws.ProjectDir,
		SettingsPath: f.settingsPath,
		Bridge:       bridge,
		Signer:       &fakeSigner{ws: f.ws},
	})
	require.NoError(t, err)
	require.FileExists(t, result.PackagePath)
	require.Zero(t, bridge.callCount())

	files := readArchive(t, result.PackagePath)
	require.Contains(t, files["js/main.js"], `"/opt/usr/apps/tmp/PlayerWITs"`)
}

// TestBuild_ReconnectsOnNewAddress checks that an explicit address
// replaces the stored session.
func TestBuild_ReconnectsOnNewAddress(t *testing.T) {
	t.Parallel()

	// Setup test environment with a session for another device.
	f := newFixture(t)
	prepared(t, f)

	repo := session.NewFileRepository(f.ws.SessionPath())
	require.NoError(t, repo.Save(context.Background(), &session.Record{
		Device:      wits.DeviceInfo{DeviceName: "192.168.0.99:26101", AppInstallPath: "/old/"},
		Address:     "192.168.0.99",
		ConnectedAt: time.Now().UTC(),
	}))

	bridge := tvBridge()

	// Build the package.
	_, err := launcher.Build(context.Background(), &launcher.Options{
		BasePath:     f.ws.Base,
		ProjectDir:   f.ws.ProjectDir,
		SettingsPath: f.settingsPath,
		Address:      "192.168.0.10",
		Bridge:       bridge,
		Signer:       &fakeSigner{ws: f.ws},
	})
	require.NoError(t, err)
	require.NotZero(t, bridge.callCount())

	record, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "192.168.0.10", record.Address)
	require.Equal(t, "/opt/usr/apps/tmp/", record.Device.AppInstallPath)
}

// TestBuild_SignerFailureKeepsOutput checks that a failed signature leaves
// the previously published package untouched.
func TestBuild_SignerFailureKeepsOutput(t *testing.T) {
	t.Parallel()

	// Setup test environment with a previous package.
	f := newFixture(t)
	prepared(t, f)

	opts := &launcher.Options{
		BasePath:     f.ws.Base,
		ProjectDir:   f.ws.ProjectDir,
		SettingsPath: f.settingsPath,
		Bridge:       tvBridge(),
		Signer:       &fakeSigner{ws: f.ws},
	}

	result, err := launcher.Build(context.Background(), opts)
	require.NoError(t, err)

	before, err := os.ReadFile(result.PackagePath)
	require.NoError(t, err)

	// Fail the next signature.
	opts.Signer = &fakeSigner{ws: f.ws, err: errors.New("profile password rejected")}

	_, err = launcher.Build(context.Background(), opts)
	require.ErrorIs(t, err, wits.ErrSigning)

	after, err := os.ReadFile(result.PackagePath)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.NoFileExists(t, f.ws.BuildMarkerPath())
}

// TestBuild_RequiresAnswers checks that a build without stored answers fails
// before touching the device.
func TestBuild_RequiresAnswers(t *testing.T) {
	t.Parallel()

	// Setup test environment without answers.
	f := newFixture(t)
	bridge := tvBridge()

	// Build the package.
	_, err := launcher.Build(context.Background(), &launcher.Options{
		BasePath:     f.ws.Base,
		ProjectDir:   f.ws.ProjectDir,
		SettingsPath: f.settingsPath,
		Bridge:       bridge,
		Signer:       &fakeSigner{ws: f.ws},
	})
	require.Error(t, err)
	require.Zero(t, bridge.callCount())
	require.NoDirExists(t, f.ws.Output())
}
