package wits

import (
	"strconv"
	"strings"
)

// UserAnswers holds the values collected from the user for one run.
// It is passed by value and never modified once collected.
type UserAnswers struct {
	// BaseAppPath is the directory of the host application (holds config.xml).
	BaseAppPath string
	// HostIP is the address of the development machine serving live content.
	HostIP string
	// SocketPort is the port of the development machine socket server.
	SocketPort int
	// Width is the layout width injected into the entry document.
	Width string
	// ProfilePath references the signing profile handed to the signer.
	ProfilePath string
}

// Port renders SocketPort for template substitution.
func (a UserAnswers) Port() string {
	return strconv.Itoa(a.SocketPort)
}

// DeviceInfo describes the resolved target device.
type DeviceInfo struct {
	// DeviceName is the bridge tool identifier of the device.
	DeviceName string
	// AppInstallPath is the absolute install root on the device, with a trailing separator.
	// It is empty when the device does not report one.
	AppInstallPath string
}

// HasInstallPath reports whether the device reported an install root.
func (d DeviceInfo) HasInstallPath() bool {
	return strings.TrimSpace(d.AppInstallPath) != ""
}
