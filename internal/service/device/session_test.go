package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/workspace"
)

var errBridgeFailed = errors.New("bridge failed")

type fakeBridge struct {
	mu        sync.Mutex
	outputs   map[string]string
	failures  map[string]error
	pushLines []string
	pushErr   error
	release   chan struct{}
	calls     []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{outputs: map[string]string{}, failures: map[string]error{}}
}

func (b *fakeBridge) Output(_ context.Context, args ...string) (string, error) {
	key := strings.Join(args, " ")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, key)

	return b.outputs[key], b.failures[key]
}

func (b *fakeBridge) Stream(_ context.Context, onLine func(string), args ...string) error {
	b.mu.Lock()
	b.calls = append(b.calls, strings.Join(args, " "))
	release := b.release
	b.mu.Unlock()

	if release != nil {
		<-release
	}

	for _, line := range b.pushLines {
		onLine(line)
	}

	return b.pushErr
}

func (b *fakeBridge) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.calls...)
}

type fakeChooser struct {
	candidates   []string
	defaultIndex int
	pick         int
	called       bool
}

func (c *fakeChooser) Choose(_ context.Context, candidates []string, defaultIndex int) (string, error) {
	c.called = true
	c.candidates = candidates
	c.defaultIndex = defaultIndex

	return candidates[c.pick], nil
}

func newWorkspace(t *testing.T) workspace.Context {
	t.Helper()

	ws, err := workspace.New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	return ws
}

// TestSession_SingleDeviceSelectedWithoutPrompt resolves one healthy device automatically.
func TestSession_SingleDeviceSelectedWithoutPrompt(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["devices"] = "List of devices attached \nemulator-26101\tdevice\temulator\n"
	bridge.outputs["-s emulator-26101 capability"] = "cpu_arch:x86\r\nsdk_toolpath:/opt/usr/apps/tmp\r\n"

	chooser := &fakeChooser{}
	session := NewSession(newWorkspace(t), bridge, chooser, 0)

	info, err := session.Connect(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, wits.DeviceInfo{DeviceName: "emulator-26101", AppInstallPath: "/opt/usr/apps/tmp/"}, info)
	require.False(t, chooser.called)
	require.Equal(t, Resolved, session.State())
	require.NotContains(t, bridge.recorded(), "connect 127.0.0.1:26101")
}

// TestSession_OfflineAnywhereAborts fails even when other devices are healthy.
func TestSession_OfflineAnywhereAborts(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["devices"] = "List of devices attached\ndev1\tdevice\ndev2\toffline\n"

	session := NewSession(newWorkspace(t), bridge, &fakeChooser{}, 0)

	_, err := session.Connect(context.Background(), "")
	require.ErrorIs(t, err, wits.ErrNoDevice)
	require.Equal(t, Failed, session.State())
}

// TestSession_NoDevices fails when the listing holds only the header.
func TestSession_NoDevices(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["devices"] = "List of devices attached\n"

	_, err := NewSession(newWorkspace(t), bridge, nil, 0).Connect(context.Background(), "")
	require.ErrorIs(t, err, wits.ErrNoDevice)
}

// TestSession_TwoDevicesNeedDisambiguation prompts with default index 0 when nothing matches.
func TestSession_TwoDevicesNeedDisambiguation(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["devices"] = "dev1\tdevice\ndev2\tdevice"

	chooser := &fakeChooser{pick: 1}
	session := NewSession(newWorkspace(t), bridge, chooser, 0)

	info, err := session.Connect(context.Background(), "")
	require.NoError(t, err)
	require.True(t, chooser.called)
	require.Equal(t, []string{"dev1", "dev2"}, chooser.candidates)
	require.Equal(t, 0, chooser.defaultIndex)
	require.Equal(t, "dev2", info.DeviceName)
	require.Empty(t, info.AppInstallPath)
}

// TestSession_AmbiguousWithoutChooser reports candidates and the default index.
func TestSession_AmbiguousWithoutChooser(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["devices"] = "dev1\tdevice\ndev2\tdevice"

	_, err := NewSession(newWorkspace(t), bridge, nil, 0).Connect(context.Background(), "")

	var ambiguous *wits.AmbiguousDeviceError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, []string{"dev1", "dev2"}, ambiguous.Candidates)
	require.Equal(t, 0, ambiguous.DefaultIndex)
}

// TestSession_ConnectPushesCertificate connects, pushes the certificate and preselects the target.
func TestSession_ConnectPushesCertificate(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	bridge := newFakeBridge()
	bridge.release = make(chan struct{})
	bridge.pushLines = []string{"pushed device-profile.xml 100%"}
	bridge.outputs["connect 192.168.0.10:26101"] = "connecting to 192.168.0.10:26101 ...\nconnected to 192.168.0.10:26101\n"
	bridge.outputs["devices"] = "List of devices attached\nemulator-26101\tdevice\n192.168.0.10:26101\tdevice\n"
	bridge.outputs["-s 192.168.0.10:26101 capability"] = "sdk_toolpath:/opt/usr/apps/tmp/\n"

	chooser := &fakeChooser{pick: 1}
	session := NewSession(ws, bridge, chooser, 0)

	info, err := session.Connect(context.Background(), "192.168.0.10")
	require.NoError(t, err)
	require.Equal(t, "192.168.0.10:26101", info.DeviceName)
	require.Equal(t, "/opt/usr/apps/tmp/", info.AppInstallPath)
	require.Equal(t, 1, chooser.defaultIndex)
	require.False(t, session.Trusted())

	close(bridge.release)
	require.NoError(t, session.WaitTrust(context.Background()))
	require.True(t, session.Trusted())
	require.Contains(t, bridge.recorded(),
		"-s 192.168.0.10:26101 push "+ws.CertificatePath()+" "+CertificateRemoteDir)
}

// TestSession_PushFailureIsNotFatal keeps the run going when the push fails.
func TestSession_PushFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.pushErr = errBridgeFailed
	bridge.outputs["connect 10.0.0.5:26101"] = "connected to 10.0.0.5:26101"
	bridge.outputs["devices"] = "List of devices attached\n10.0.0.5:26101\tdevice\n"

	session := NewSession(newWorkspace(t), bridge, nil, 0)

	info, err := session.Connect(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:26101", info.DeviceName)

	require.NoError(t, session.WaitTrust(context.Background()))
	require.False(t, session.Trusted())
}

// TestSession_ConnectFailure aborts when the bridge does not report a connection.
func TestSession_ConnectFailure(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.outputs["connect 10.0.0.5:26101"] = "failed to connect to 10.0.0.5:26101"

	session := NewSession(newWorkspace(t), bridge, nil, 0)

	_, err := session.Connect(context.Background(), "10.0.0.5")
	require.ErrorIs(t, err, wits.ErrConnect)
	require.Equal(t, Failed, session.State())
	require.NotContains(t, bridge.recorded(), "devices")

	bridge.failures["connect 10.0.0.6:26101"] = errBridgeFailed

	_, err = session.Connect(context.Background(), "10.0.0.6")
	require.ErrorIs(t, err, wits.ErrConnect)
	require.ErrorIs(t, err, errBridgeFailed)
}

// TestShouldConnect skips loopback, emulator and non-IP addresses.
func TestShouldConnect(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldConnect("192.168.0.10"))
	require.False(t, ShouldConnect("0.0.0.0"))
	require.False(t, ShouldConnect("127.0.0.1"))
	require.False(t, ShouldConnect("::1"))
	require.False(t, ShouldConnect("tv.local"))
	require.False(t, ShouldConnect(""))
}

// TestParseDeviceList handles the header and Windows line endings.
func TestParseDeviceList(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b"}, ParseDeviceList("List of devices attached\r\na\tdevice\r\nb\tdevice\r\n"))
	require.Equal(t, []string{"dev1", "dev2"}, ParseDeviceList("dev1\tdevice\ndev2\tdevice"))
	require.Empty(t, ParseDeviceList(""))
}

// TestParseInstallPath returns "" when the key is absent.
func TestParseInstallPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/opt/usr/apps/tmp/", ParseInstallPath("secure_protocol:enabled\nsdk_toolpath:/opt/usr/apps/tmp\r\n"))
	require.Empty(t, ParseInstallPath("secure_protocol:enabled\n"))
	require.Empty(t, ParseInstallPath("sdk_toolpath\n"))
}

// TestLineWriter splits writes into lines across chunk boundaries.
func TestLineWriter(t *testing.T) {
	t.Parallel()

	var lines []string

	writer := &lineWriter{onLine: func(line string) { lines = append(lines, line) }}

	_, err := writer.Write([]byte("first\r\nsec"))
	require.NoError(t, err)

	_, err = writer.Write([]byte("ond\nthird"))
	require.NoError(t, err)

	writer.flush()

	require.Equal(t, []string{"first", "second", "third"}, lines)
}

// TestStateString names every state.
func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "resolved", Resolved.String())
	require.Equal(t, "unknown(42)", State(42).String())
}
