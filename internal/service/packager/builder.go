package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/mitchellh/go-ps"
	"github.com/multiformats/go-multihash"
	"github.com/otiai10/copy"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/service/signing"
	"github.com/oshokin/wits/internal/workspace"
)

const (
	// DefaultPackageMode is the mode of the published package.
	DefaultPackageMode os.FileMode = 0o644

	markerFileMode = 0o644
)

var (
	errBuildRunning     = errors.New("another build owns the workspace")
	errNoContainer      = errors.New("container workspace not found")
	errEmptyPackageName = errors.New("package name is empty")
)

// Result describes a published package.
type Result struct {
	// BuildID identifies the build in logs.
	BuildID string
	// PackagePath is the published package.
	PackagePath string
	// Size is the package size in bytes.
	Size int64
	// ContentID is the CIDv1 of the package bytes.
	ContentID string
}

// Builder packages one workspace.
type Builder struct {
	ws          workspace.Context
	signer      signing.Signer
	packageName string
}

// NewBuilder creates a Builder publishing packageName into the workspace output directory.
func NewBuilder(ws workspace.Context, signer signing.Signer, packageName string) (*Builder, error) {
	if strings.TrimSpace(packageName) == "" {
		return nil, errEmptyPackageName
	}

	return &Builder{ws: ws, signer: signer, packageName: packageName}, nil
}

// PackagePath returns where the package is published.
func (b *Builder) PackagePath() string {
	return filepath.Join(b.ws.Output(), b.packageName)
}

// Build signs, stages, archives and publishes the container workspace:
// 1) Clean artifacts of the previous build.
// 2) Remove active credential material.
// 3) Sign.
// 4) Stage the workspace files.
// 5) Archive the workspace into the staging directory.
// 6) Strip transient artifacts and publish.
func (b *Builder) Build(ctx context.Context, profilePath string) (*Result, error) {
	buildID := uuid.NewString()
	ctx = logger.WithKV(logger.WithName(ctx, "packager"), "build_id", buildID)

	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	defer b.release(ctx)

	logger.InfoKV(ctx, "Start packaging", "output", b.ws.Output())

	if err := b.cleanPrevious(); err != nil {
		return nil, err
	}

	if err := b.removeCredentials(); err != nil {
		return nil, err
	}

	if err := b.signer.Sign(ctx, profilePath); err != nil {
		if !errors.Is(err, wits.ErrSigning) {
			err = fmt.Errorf("%w: %w", wits.ErrSigning, err)
		}

		return nil, err
	}

	if err := b.stage(); err != nil {
		return nil, err
	}

	stagedPackage := filepath.Join(b.ws.Staging(), b.packageName)

	data, err := b.archive(stagedPackage)
	if err != nil {
		return nil, err
	}

	if err = b.stripTransient(); err != nil {
		return nil, err
	}

	if err = b.publish(ctx, data); err != nil {
		return nil, err
	}

	contentID, err := ContentID(data)
	if err != nil {
		return nil, err
	}

	result := &Result{
		BuildID:     buildID,
		PackagePath: b.PackagePath(),
		Size:        int64(len(data)),
		ContentID:   contentID,
	}

	logger.InfoKV(ctx, "Build package completed",
		"package", result.PackagePath,
		"size", result.Size,
		"cid", result.ContentID)

	return result, nil
}

// acquire claims the container with a marker holding this process id and
// name. The marker is created exclusively; one left by a process that no
// longer runs under the recorded name is replaced once.
func (b *Builder) acquire(ctx context.Context) error {
	if info, err := os.Stat(b.ws.Container()); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s: %w", wits.ErrResourceRead, b.ws.Container(), errNoContainer)
	}

	marker := b.ws.BuildMarkerPath()

	for attempt := 0; ; attempt++ {
		err := writeMarker(marker)
		if err == nil {
			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("write build marker: %w", err)
		}

		owner, live := markerOwner(marker)
		if live || attempt > 0 {
			return fmt.Errorf("%w: %s", errBuildRunning, owner)
		}

		logger.InfoKV(ctx, "Removing stale build marker", "marker", marker, "owner", owner)

		if err = removeFile(marker); err != nil {
			return err
		}
	}
}

// writeMarker creates the marker, failing with os.ErrExist when it is present.
func writeMarker(path string) error {
	//nolint:gosec // Marker path is derived from the workspace.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(file, "%d\n%s\n", os.Getpid(), processName(os.Getpid()))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	return err
}

// markerOwner describes the marker owner and reports whether it still runs.
func markerOwner(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unreadable marker", false
	}

	pidText, name, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	name = strings.TrimSpace(name)

	pid, err := strconv.Atoi(strings.TrimSpace(pidText))
	if err != nil || pid <= 0 {
		return "malformed marker", false
	}

	owner := "pid " + strconv.Itoa(pid)
	running := processName(pid)

	if running == "" || (name != "" && running != name) {
		return owner, false
	}

	return owner, true
}

// processName returns the executable name of pid, or "" when it does not run.
func processName(pid int) string {
	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return ""
	}

	return process.Executable()
}

// release drops the staging directory and the marker.
func (b *Builder) release(ctx context.Context) {
	if err := os.RemoveAll(b.ws.Staging()); err != nil {
		logger.WarnKV(ctx, "Unable to remove staging directory", "error", err)
	}

	if err := os.Remove(b.ws.BuildMarkerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove build marker", "error", err)
	}
}

// cleanPrevious removes signature artifacts and a leftover staging
// directory. The output directory is left to the publish step.
func (b *Builder) cleanPrevious() error {
	for _, name := range signing.TransientFiles() {
		if err := removeFile(filepath.Join(b.ws.Container(), name)); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(b.ws.Staging()); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}

	return nil
}

func (b *Builder) removeCredentials() error {
	for _, path := range signing.ActiveCredentialPaths(b.ws) {
		if err := removeFile(path); err != nil {
			return err
		}
	}

	return nil
}

// stage copies the workspace files into the staging directory.
func (b *Builder) stage() error {
	container := b.ws.Container()

	err := copy.Copy(container, b.ws.Staging(), copy.Options{
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			rel, err := filepath.Rel(container, src)
			if err != nil || rel == "." {
				return false, err
			}

			return workspace.ExcludedFromPackage(rel), nil
		},
	})
	if err != nil {
		return fmt.Errorf("stage workspace: %w", err)
	}

	return nil
}

// archive zips the workspace tree into target and returns the package bytes
// once the archive reads back.
func (b *Builder) archive(target string) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeArchive(&buf, b.ws.Container()); err != nil {
		return nil, fmt.Errorf("%w: %w", wits.ErrArchive, err)
	}

	data := buf.Bytes()

	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("%w: verify archive: %w", wits.ErrArchive, err)
	}

	if err := os.WriteFile(target, data, DefaultPackageMode); err != nil {
		return nil, fmt.Errorf("%w: write %s: %w", wits.ErrArchive, target, err)
	}

	return data, nil
}

func writeArchive(w io.Writer, root string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}

		rel = filepath.ToSlash(rel)
		if workspace.ExcludedFromPackage(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if entry.IsDir() || rel == signing.ManifestTempFilename {
			return nil
		}

		return addFile(zw, path, rel, entry)
	})
	if err != nil {
		_ = zw.Close()

		return err
	}

	return zw.Close()
}

func addFile(zw *zip.Writer, path, name string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	//nolint:gosec // Paths come from walking the container.
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)

	return err
}

// stripTransient removes signature artifacts from staging and the workspace,
// then drops the hidden resource directory.
func (b *Builder) stripTransient() error {
	for _, dir := range []string{b.ws.Staging(), b.ws.Container()} {
		for _, name := range signing.TransientFiles() {
			if err := removeFile(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}

	if err := os.RemoveAll(b.ws.HiddenResource()); err != nil {
		return fmt.Errorf("remove %s: %w", b.ws.HiddenResource(), err)
	}

	return nil
}

// publish atomically replaces the output package with data.
func (b *Builder) publish(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(b.ws.Output(), 0o755); err != nil {
		return fmt.Errorf("%w: prepare output directory: %w", wits.ErrPublish, err)
	}

	target := b.PackagePath()

	created := false
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(target)
		if createErr != nil {
			return fmt.Errorf("%w: %w", wits.ErrPublish, createErr)
		}

		_ = placeholder.Close()
		created = true
	}

	checksum := sha512.Sum512(data)

	err := goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultPackageMode,
		Checksum:   checksum[:],
		Hash:       signing.DigestHash,
	})
	if err != nil {
		if created {
			_ = os.Remove(target)
		}

		return fmt.Errorf("%w: %w", wits.ErrPublish, err)
	}

	oldPackage := filepath.Join(b.ws.Output(), "."+b.packageName+".old")
	if _, err = os.Stat(oldPackage); err == nil {
		_ = os.Remove(oldPackage)
	}

	logger.DebugKV(ctx, "Package published", "path", target)

	return nil
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of a package.
func ContentID(data []byte) (string, error) {
	hash, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash package: %w", err)
	}

	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
