package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// ContainerDirName holds the debugging shell that becomes the package.
	ContainerDirName = "container"
	// ToolsDirName holds the prebuilt bridge tool bundle.
	ToolsDirName = "tools"
	// ResourceDirName holds certificates and signing resources.
	ResourceDirName = "resource"
	// OutputDirName is the package output directory inside the container.
	OutputDirName = "build"
	// StagingDirName is the temporary build directory inside the container.
	StagingDirName = ".buildResult"
	// HiddenResourceDirName is removed from the container after every build.
	HiddenResourceDirName = ".resource"

	// BuildMarkerFilename marks the container as owned by a running build.
	BuildMarkerFilename = ".wits-build.lock"

	// ManifestFilename is the manifest of both the host application and the container.
	ManifestFilename = "config.xml"
	// CertificateFilename is the device profile pushed to the device for trust.
	CertificateFilename = "device-profile.xml"
	// IgnoreFilename lists project paths wits never pushes.
	IgnoreFilename = ".witsignore"
	// ProjectConfigFilename stores the answers of the previous run.
	ProjectConfigFilename = ".witsconfig.json"
	// SessionFilename stores the last resolved device.
	SessionFilename = ".wits-session.json"
)

// packageExcludes are container paths that never enter a signature or a package.
var packageExcludes = []string{
	StagingDirName, StagingDirName + "/**",
	OutputDirName, OutputDirName + "/**",
	HiddenResourceDirName, HiddenResourceDirName + "/**",
	BuildMarkerFilename,
}

var errBaseRequired = errors.New("workspace base directory must be provided")

// Context is the explicit replacement for a process-wide "current base path".
type Context struct {
	// Base is the directory holding container, tools and resource.
	Base string
	// ProjectDir is the user's current project directory.
	ProjectDir string
}

// New resolves base and project to absolute paths.
func New(base, projectDir string) (Context, error) {
	if base == "" {
		return Context{}, errBaseRequired
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return Context{}, fmt.Errorf("resolve base directory: %w", err)
	}

	if projectDir == "" {
		if projectDir, err = os.Getwd(); err != nil {
			return Context{}, fmt.Errorf("resolve project directory: %w", err)
		}
	}

	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return Context{}, fmt.Errorf("resolve project directory: %w", err)
	}

	return Context{Base: absBase, ProjectDir: absProject}, nil
}

// Container returns the container workspace that is packaged.
func (c Context) Container() string { return filepath.Join(c.Base, ContainerDirName) }

// Tools returns the prebuilt tools directory.
func (c Context) Tools() string { return filepath.Join(c.Base, ToolsDirName) }

// Resource returns the resource directory.
func (c Context) Resource() string { return filepath.Join(c.Base, ResourceDirName) }

// Output returns the directory the final package is published to.
func (c Context) Output() string { return filepath.Join(c.Container(), OutputDirName) }

// Staging returns the temporary build directory.
func (c Context) Staging() string { return filepath.Join(c.Container(), StagingDirName) }

// HiddenResource returns the container's transient resource directory.
func (c Context) HiddenResource() string { return filepath.Join(c.Container(), HiddenResourceDirName) }

// ManifestPath returns the container manifest written by the transformer.
func (c Context) ManifestPath() string { return filepath.Join(c.Container(), ManifestFilename) }

// ScriptTemplatePath returns the bootstrap script template.
func (c Context) ScriptTemplatePath() string { return filepath.Join(c.Container(), "js", "base.js") }

// ScriptOutputPath returns the rendered bootstrap script.
func (c Context) ScriptOutputPath() string { return filepath.Join(c.Container(), "js", "main.js") }

// DocumentTemplatePath returns the host document template.
func (c Context) DocumentTemplatePath() string { return filepath.Join(c.Container(), "base.html") }

// DocumentOutputPath returns the rendered entry document.
func (c Context) DocumentOutputPath() string { return filepath.Join(c.Container(), "index.html") }

// CertificatePath returns the device profile pushed during trust establishment.
func (c Context) CertificatePath() string { return filepath.Join(c.Resource(), CertificateFilename) }

// ActiveCredentialDir returns where active signing key/cert PEM files live.
func (c Context) ActiveCredentialDir() string {
	return filepath.Join(c.Resource(), "profile", "active")
}

// AssetArchive returns the downloaded zip for a named prebuilt asset.
func (c Context) AssetArchive(name string) string { return filepath.Join(c.Base, name+".zip") }

// AssetDir returns the extraction directory of a named prebuilt asset.
func (c Context) AssetDir(name string) string { return filepath.Join(c.Base, name) }

// IgnorePath returns the project's ignore file.
func (c Context) IgnorePath() string { return filepath.Join(c.ProjectDir, IgnoreFilename) }

// ProjectConfigPath returns the project's config file.
func (c Context) ProjectConfigPath() string {
	return filepath.Join(c.ProjectDir, ProjectConfigFilename)
}

// BuildMarkerPath returns the marker held by the running build.
func (c Context) BuildMarkerPath() string {
	return filepath.Join(c.Container(), BuildMarkerFilename)
}

// ExcludedFromPackage reports whether a container-relative path belongs to
// the build machinery rather than to the package contents.
func ExcludedFromPackage(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))

	for _, pattern := range packageExcludes {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}

	return false
}

// SessionPath returns where the last resolved device is stored.
func (c Context) SessionPath() string { return filepath.Join(c.Base, SessionFilename) }
