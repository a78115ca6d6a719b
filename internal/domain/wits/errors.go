package wits

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigRead is returned when a configuration file cannot be read.
	ErrConfigRead = errors.New("config read error")
	// ErrResourceRead is returned when a template or resource file cannot be read.
	ErrResourceRead = errors.New("resource read error")
	// ErrManifestRead is returned when the host application manifest cannot be read.
	ErrManifestRead = errors.New("manifest read error")
	// ErrUnsupportedFormat is returned when the manifest lacks its required root.
	ErrUnsupportedFormat = errors.New("unsupported manifest format")
	// ErrSigning is returned when the signer fails; the build is aborted.
	ErrSigning = errors.New("signing error")
	// ErrArchive is returned when the package archive cannot be finalized.
	ErrArchive = errors.New("archive error")
	// ErrPublish is returned when the package cannot be moved into the output directory.
	ErrPublish = errors.New("publish error")
	// ErrNoDevice is returned when no usable device is available.
	ErrNoDevice = errors.New("no device")
	// ErrConnect is returned when the bridge tool cannot connect to the requested address.
	ErrConnect = errors.New("device connect error")
	// ErrDownload is returned when a prebuilt asset is corrupt; the corrupt file is removed.
	ErrDownload = errors.New("download error")
)

// AmbiguousDeviceError reports several candidate devices when no chooser is available.
type AmbiguousDeviceError struct {
	// Candidates lists the device identifiers in bridge tool order.
	Candidates []string
	// DefaultIndex is the candidate a chooser would preselect.
	DefaultIndex int
}

// Error implements error.
func (e *AmbiguousDeviceError) Error() string {
	return fmt.Sprintf("ambiguous device: %d candidates (%s), default %d",
		len(e.Candidates), strings.Join(e.Candidates, ", "), e.DefaultIndex)
}
