package device

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/workspace"
)

const (
	// DefaultConnectPort is the TV developer port.
	DefaultConnectPort = 26101
	// EmulatorAddress is the emulator address, which needs no connect.
	EmulatorAddress = "0.0.0.0"
	// CertificateRemoteDir receives the device profile on the TV.
	CertificateRemoteDir = "/home/owner/share/tmp/sdk_tools/"

	connectedMarker     = "connected"
	offlineMarker       = "offline"
	installPathKey      = "sdk_toolpath"
	deviceListSeparator = "\t"
)

// State is the connection progress of a Session.
type State int

// Session states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Trusted
	Resolved
	Failed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Trusted:
		return "trusted"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Chooser picks one of several candidate devices.
type Chooser interface {
	Choose(ctx context.Context, candidates []string, defaultIndex int) (string, error)
}

// Session resolves the device a run targets.
type Session struct {
	ws      workspace.Context
	bridge  Bridge
	chooser Chooser
	port    int

	mu         sync.Mutex
	state      State
	candidates []string
	selected   string
	trusted    bool
	pushDone   chan struct{}
}

// NewSession creates a Session. A nil chooser turns multiple candidates into
// an AmbiguousDeviceError; a non-positive port means DefaultConnectPort.
func NewSession(ws workspace.Context, bridge Bridge, chooser Chooser, port int) *Session {
	if port <= 0 {
		port = DefaultConnectPort
	}

	return &Session{ws: ws, bridge: bridge, chooser: chooser, port: port}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Candidates returns the devices found by the last discovery.
func (s *Session) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.candidates)
}

// Selected returns the resolved device.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selected
}

// Trusted reports whether the certificate push finished successfully.
func (s *Session) Trusted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.trusted
}

// WaitTrust blocks until a launched certificate push finishes. Connect never
// waits on the push; it exists for callers that must observe its outcome.
func (s *Session) WaitTrust(ctx context.Context) error {
	s.mu.Lock()
	done := s.pushDone
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect connects to targetAddress when it is a remote IP literal, then
// resolves the device and its install path.
func (s *Session) Connect(ctx context.Context, targetAddress string) (wits.DeviceInfo, error) {
	ctx = logger.WithName(ctx, "device")

	if ShouldConnect(targetAddress) {
		if err := s.connect(ctx, targetAddress); err != nil {
			s.setState(ctx, Failed)

			return wits.DeviceInfo{}, err
		}
	}

	name, err := s.resolve(ctx, targetAddress)
	if err != nil {
		s.setState(ctx, Failed)

		return wits.DeviceInfo{}, err
	}

	installPath, err := s.AppInstallPath(ctx, name)
	if err != nil {
		s.setState(ctx, Failed)

		return wits.DeviceInfo{}, err
	}

	if installPath == "" {
		logger.WarnKV(ctx, "Device reported no install path", "device", name)
	}

	s.setState(ctx, Resolved)

	return wits.DeviceInfo{DeviceName: name, AppInstallPath: installPath}, nil
}

// ShouldConnect reports whether address is an IP literal that needs an
// explicit connect. Loopback and the emulator address are reached directly.
func ShouldConnect(address string) bool {
	ip := net.ParseIP(strings.TrimSpace(address))

	return ip != nil && !ip.IsLoopback() && !ip.IsUnspecified()
}

func (s *Session) serial(address string) string {
	return net.JoinHostPort(strings.TrimSpace(address), strconv.Itoa(s.port))
}

func (s *Session) connect(ctx context.Context, address string) error {
	serial := s.serial(address)

	s.setState(ctx, Connecting)
	logger.InfoKV(ctx, "Connecting to device", "address", serial)

	output, err := s.bridge.Output(ctx, "connect", serial)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", wits.ErrConnect, serial, err)
	}

	if !strings.Contains(output, connectedMarker) {
		return fmt.Errorf("%w: %s: %s", wits.ErrConnect, serial, strings.TrimSpace(output))
	}

	s.setState(ctx, Connected)
	logger.InfoKV(ctx, "Connected to device", "address", serial)

	s.pushCertificate(ctx, serial)

	return nil
}

// pushCertificate starts the best-effort certificate push in the background.
// Its output and failure are only logged. The push is not tied to the
// caller's lifetime: a process that exits right after Connect drops the
// remaining push output and leaves the bridge child running to completion.
// Short-lived callers use WaitTrust with a deadline to see it finish.
func (s *Session) pushCertificate(ctx context.Context, serial string) {
	done := make(chan struct{})

	s.mu.Lock()
	s.pushDone = done
	s.mu.Unlock()

	s.setState(ctx, Trusted)

	pushCtx := logger.WithKV(context.WithoutCancel(ctx), "device", serial)
	certificate := s.ws.CertificatePath()

	go func() {
		defer close(done)

		err := s.bridge.Stream(pushCtx, func(line string) {
			logger.Info(pushCtx, line)
		}, "-s", serial, "push", certificate, CertificateRemoteDir)
		if err != nil {
			logger.WarnKV(pushCtx, "Certificate push failed", "error", err)

			return
		}

		s.mu.Lock()
		s.trusted = true
		s.mu.Unlock()
	}()
}

// Discover lists the attached devices. Any "offline" in the listing fails
// the whole discovery, even when other devices are online.
func (s *Session) Discover(ctx context.Context) ([]string, error) {
	output, err := s.bridge.Output(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", wits.ErrNoDevice, err)
	}

	if strings.Contains(output, offlineMarker) {
		return nil, fmt.Errorf("%w: a device is offline", wits.ErrNoDevice)
	}

	candidates := ParseDeviceList(output)

	s.mu.Lock()
	s.candidates = slices.Clone(candidates)
	s.mu.Unlock()

	return candidates, nil
}

func (s *Session) resolve(ctx context.Context, targetAddress string) (string, error) {
	candidates, err := s.Discover(ctx)
	if err != nil {
		return "", err
	}

	var selected string

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: no connected devices", wits.ErrNoDevice)
	case 1:
		selected = candidates[0]
	default:
		defaultIndex := max(slices.Index(candidates, s.serial(targetAddress)), 0)

		if s.chooser == nil {
			return "", &wits.AmbiguousDeviceError{Candidates: candidates, DefaultIndex: defaultIndex}
		}

		if selected, err = s.chooser.Choose(ctx, candidates, defaultIndex); err != nil {
			return "", fmt.Errorf("choose device: %w", err)
		}
	}

	s.mu.Lock()
	s.selected = selected
	s.mu.Unlock()

	logger.InfoKV(ctx, "Device selected", "device", selected, "candidates", len(candidates))

	return selected, nil
}

// AppInstallPath returns the install root reported by device, or "" when
// the device does not report one.
func (s *Session) AppInstallPath(ctx context.Context, device string) (string, error) {
	output, err := s.bridge.Output(ctx, "-s", device, "capability")
	if err != nil {
		return "", fmt.Errorf("query capability of %s: %w", device, err)
	}

	return ParseInstallPath(output), nil
}

func (s *Session) setState(ctx context.Context, state State) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	s.mu.Unlock()

	logger.DebugKV(ctx, "Session state changed", "from", previous, "to", state)
}

// ParseDeviceList extracts device identifiers from the devices listing. The
// first line is dropped as a header unless it already is a device row.
func ParseDeviceList(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > 0 && !strings.Contains(lines[0], deviceListSeparator) {
		lines = lines[1:]
	}

	devices := make([]string, 0, len(lines))

	for _, line := range lines {
		name, _, _ := strings.Cut(line, deviceListSeparator)
		if name = strings.TrimSpace(name); name != "" {
			devices = append(devices, name)
		}
	}

	return devices
}

// ParseInstallPath finds the sdk_toolpath capability and returns its value
// with a trailing separator.
func ParseInstallPath(capability string) string {
	var result string

	for _, line := range strings.Split(capability, "\n") {
		if !strings.Contains(line, installPathKey) {
			continue
		}

		fields := strings.Split(strings.ReplaceAll(line, "\r", ""), ":")
		if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
			continue
		}

		result = strings.TrimSuffix(strings.TrimSpace(fields[1]), "/") + "/"
	}

	return result
}
