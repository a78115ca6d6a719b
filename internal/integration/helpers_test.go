package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/service/signing"
	"github.com/oshokin/wits/internal/workspace"
)

const hostManifest = `<?xml version="1.0" encoding="UTF-8"?>
<widget xmlns="http://www.w3.org/ns/widgets" xmlns:tizen="http://tizen.org/ns/widgets" id="http://example.com/player" version="1.0.0">
    <tizen:application id="abcdefghij.Player" package="abcdefghij" required_version="2.3"/>
    <content src="main/index.html"/>
    <icon src="logo.png"/>
    <access origin="https://api.example.com" subdomains="false"/>
</widget>
`

const scriptTemplate = `var contentPath = "{{CONTENT_PATH}}";
var contentSrc = "{{CONTENT_SRC}}";
var host = "{{HOST_IP}}:{{HOST_PORT}}";
var base = "{{HOST_BASE_CONTENT_PATH}}";
`

// fixture is one isolated tool installation plus a user project.
type fixture struct {
	ws           workspace.Context
	settingsPath string
	appDir       string
	assets       *httptest.Server
}

// newFixture serves the prebuilt assets and writes settings pointing at them.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	// Build the prebuilt asset archives.
	bodies := map[string][]byte{
		"container.zip": zipBytes(t, map[string]string{
			"config.xml": "<widget/>",
			"base.html":  `<body style="width:{{HOST_WIDTH}}px"></body>`,
			"js/base.js": scriptTemplate,
		}),
		"tools.zip":    zipBytes(t, map[string]string{"README": "bridge tool"}),
		"resource.zip": zipBytes(t, map[string]string{"device-profile.xml": "<profile/>"}),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	ws, err := workspace.New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	// Point the settings at the local asset server.
	settingsPath := filepath.Join(ws.Base, config.DefaultSettingsFilename)
	require.NoError(t, config.SaveSettings(settingsPath, &config.Settings{
		Assets: map[string]string{
			config.AssetContainer: server.URL + "/container.zip",
			config.AssetTools:     server.URL + "/tools.zip",
			config.AssetResource:  server.URL + "/resource.zip",
		},
	}))

	// Create the host application inside the project.
	appDir := filepath.Join(ws.ProjectDir, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "config.xml"), []byte(hostManifest), 0o600))

	return &fixture{ws: ws, settingsPath: settingsPath, appDir: appDir, assets: server}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, reader.Close())
	}()

	files := make(map[string]string, len(reader.File))

	for _, file := range reader.File {
		rc, err := file.Open()
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		files[file.Name] = buf.String()
	}

	return files
}

// fakeBridge answers bridge tool commands from a table.
type fakeBridge struct {
	mu      sync.Mutex
	outputs map[string]string
	calls   []string
}

func (b *fakeBridge) Output(_ context.Context, args ...string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := strings.Join(args, " ")
	b.calls = append(b.calls, key)

	return b.outputs[key], nil
}

func (b *fakeBridge) Stream(_ context.Context, onLine func(string), args ...string) error {
	b.mu.Lock()
	b.calls = append(b.calls, strings.Join(args, " "))
	b.mu.Unlock()

	onLine("1 file(s) pushed")

	return nil
}

func (b *fakeBridge) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.calls)
}

// tvBridge knows a single TV reachable at 192.168.0.10.
func tvBridge() *fakeBridge {
	return &fakeBridge{outputs: map[string]string{
		"connect 192.168.0.10:26101":       "connected to 192.168.0.10:26101",
		"devices":                          "List of devices attached\n192.168.0.10:26101\tdevice\tUE55\n",
		"-s 192.168.0.10:26101 capability": "secure_protocol:enabled\nsdk_toolpath:/opt/usr/apps/tmp\n",
	}}
}

// fakeSigner writes placeholder signatures into the container.
type fakeSigner struct {
	ws  workspace.Context
	err error
}

func (s *fakeSigner) Sign(_ context.Context, _ string) error {
	if s.err != nil {
		return s.err
	}

	for _, name := range []string{signing.AuthorSignatureFilename, signing.DistributorSignatureFilename} {
		if err := os.WriteFile(filepath.Join(s.ws.Container(), name), []byte("<Signature/>"), 0o600); err != nil {
			return err
		}
	}

	return nil
}
