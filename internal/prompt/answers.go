package prompt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/workspace"
)

const (
	// DefaultSocketPort is the live-reload socket port of the host.
	DefaultSocketPort = 8498
	// DefaultWidth is the preselected layout width.
	DefaultWidth = "1920"

	maxPort = 65535
)

var (
	errNotDirectory = errors.New("not a directory")
	errNoManifest   = errors.New("directory holds no " + workspace.ManifestFilename)
	errBadPort      = errors.New("must be a port between 1 and 65535")
	errBadIP        = errors.New("must be an IP address")
	errEmptyValue   = errors.New("must not be empty")
	errMissingFile  = errors.New("file does not exist")
)

// Widths lists the supported layout widths.
func Widths() []string {
	return []string{"1920", "1280"}
}

// WithDefaults fills empty answers with defaults. hostIP is used when the
// answers carry none.
func WithDefaults(answers wits.UserAnswers, hostIP string) wits.UserAnswers {
	if answers.SocketPort <= 0 {
		answers.SocketPort = DefaultSocketPort
	}

	if strings.TrimSpace(answers.Width) == "" {
		answers.Width = DefaultWidth
	}

	if strings.TrimSpace(answers.HostIP) == "" {
		answers.HostIP = hostIP
	}

	return answers
}

// AskAnswers asks for every run answer, prefilled from defaults. It returns
// the answers and the device address.
func AskAnswers(ctx context.Context, defaults wits.UserAnswers, deviceIP string) (wits.UserAnswers, string, error) {
	answers := WithDefaults(defaults, LocalIP())
	port := strconv.Itoa(answers.SocketPort)

	widthOptions := make([]huh.Option[string], 0, len(Widths()))
	for _, width := range Widths() {
		widthOptions = append(widthOptions, huh.NewOption(width, width))
	}

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Base app path").Value(&answers.BaseAppPath).Validate(ValidateBaseAppPath),
		huh.NewSelect[string]().Title("Layout width").Options(widthOptions...).Value(&answers.Width),
		huh.NewInput().Title("Device address (empty for the emulator)").Value(&deviceIP).Validate(ValidateOptionalIP),
		huh.NewInput().Title("Host address").Value(&answers.HostIP).Validate(ValidateIP),
		huh.NewInput().Title("Socket port").Value(&port).Validate(ValidatePort),
		huh.NewInput().Title("Signing profile path").Value(&answers.ProfilePath).Validate(ValidateFile),
	)).RunWithContext(ctx)
	if err != nil {
		return wits.UserAnswers{}, "", fmt.Errorf("ask answers: %w", err)
	}

	answers.SocketPort, _ = strconv.Atoi(strings.TrimSpace(port))
	answers.BaseAppPath = strings.TrimSpace(answers.BaseAppPath)
	answers.ProfilePath = strings.TrimSpace(answers.ProfilePath)

	return answers, strings.TrimSpace(deviceIP), nil
}

// ValidateBaseAppPath requires a directory holding the host manifest.
func ValidateBaseAppPath(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errEmptyValue
	}

	info, err := os.Stat(s)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return errNotDirectory
	}

	if _, err = os.Stat(filepath.Join(s, workspace.ManifestFilename)); err != nil {
		return errNoManifest
	}

	return nil
}

// ValidateIP requires an IP literal.
func ValidateIP(s string) error {
	if net.ParseIP(strings.TrimSpace(s)) == nil {
		return errBadIP
	}

	return nil
}

// ValidateOptionalIP accepts an empty value or an IP literal.
func ValidateOptionalIP(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	return ValidateIP(s)
}

// ValidatePort requires a TCP port number.
func ValidatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > maxPort {
		return errBadPort
	}

	return nil
}

// ValidateFile requires an existing regular file.
func ValidateFile(s string) error {
	info, err := os.Stat(strings.TrimSpace(s))
	if err != nil || info.IsDir() {
		return errMissingFile
	}

	return nil
}

// LocalIP returns the first non-loopback IPv4 address of this machine.
func LocalIP() string {
	addresses, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	for _, address := range addresses {
		ipNet, ok := address.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}

		if ip := ipNet.IP.To4(); ip != nil {
			return ip.String()
		}
	}

	return ""
}
