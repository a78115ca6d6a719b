package assets

import (
	"archive/zip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/version"
	"github.com/oshokin/wits/internal/workspace"
)

const archiveFileMode = 0o644

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errUnsafeEntry   = errors.New("archive entry escapes the target directory")
)

// Asset is a named prebuilt bundle.
type Asset struct {
	Name string
	URL  string
}

// Fetcher downloads assets into a workspace.
type Fetcher struct {
	ws     workspace.Context
	client *http.Client
}

// NewFetcher creates a Fetcher. A non-empty proxy routes downloads through
// that proxy without TLS verification.
func NewFetcher(ws workspace.Context, proxy string, timeout time.Duration) (*Fetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy = strings.TrimSpace(proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy server %q: %w", proxy, err)
		}

		transport.Proxy = http.ProxyURL(proxyURL)
		//nolint:gosec // Intercepting proxies re-sign TLS traffic.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Fetcher{
		ws:     ws,
		client: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// FetchAll prepares every asset in parallel and returns the first failure.
func (f *Fetcher) FetchAll(ctx context.Context, assets []Asset) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for _, asset := range assets {
		group.Go(func() error {
			return f.Fetch(groupCtx, asset)
		})
	}

	return group.Wait()
}

// Fetch downloads one asset when needed and extracts it.
func (f *Fetcher) Fetch(ctx context.Context, asset Asset) error {
	ctx = logger.WithKV(ctx, "asset", asset.Name)

	if err := f.download(ctx, asset); err != nil {
		return err
	}

	return f.extract(ctx, asset)
}

// download skips a non-empty archive and replaces a zero-byte one.
func (f *Fetcher) download(ctx context.Context, asset Asset) error {
	path := f.ws.AssetArchive(asset.Name)

	info, err := os.Stat(path)

	switch {
	case err == nil && info.Size() > 0:
		logger.DebugKV(ctx, "Asset archive already present", "path", path)

		return nil
	case err == nil:
		if err = os.Remove(path); err != nil {
			return fmt.Errorf("remove empty archive %s: %w", path, err)
		}

		logger.InfoKV(ctx, "Invalid zip file was removed", "path", path)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat %s: %w", path, err)
	}

	logger.InfoKV(ctx, "Downloading asset", "url", asset.URL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", asset.URL, err)
	}

	request.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: download %s, check the proxy settings: %w", wits.ErrDownload, asset.Name, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: %w: %s", wits.ErrDownload, asset.Name, errBadHTTPStatus, response.Status)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare %s: %w", path, err)
	}

	//nolint:gosec // Archive paths are derived from the workspace.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, archiveFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	written, copyErr := io.Copy(file, response.Body)
	closeErr := file.Close()

	if err = errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)

		return fmt.Errorf("%w: write %s: %w", wits.ErrDownload, path, err)
	}

	logger.InfoKV(ctx, "Download has been completed", "bytes", written)

	return nil
}

// extract unpacks the archive; a corrupt archive is deleted so the next run
// downloads it again.
func (f *Fetcher) extract(ctx context.Context, asset Asset) error {
	path := f.ws.AssetArchive(asset.Name)

	if err := unzip(path, f.ws.AssetDir(asset.Name)); err != nil {
		if removeErr := os.Remove(path); removeErr == nil {
			logger.WarnKV(ctx, "Invalid zip file was removed, retry please", "path", path)
		}

		return fmt.Errorf("%w: extract %s: %w", wits.ErrDownload, asset.Name, err)
	}

	logger.InfoKV(ctx, "Asset prepared", "dir", f.ws.AssetDir(asset.Name))

	return nil
}

func unzip(archivePath, target string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err = extractEntry(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(entry *zip.File, target string) error {
	destination := filepath.Join(target, filepath.FromSlash(entry.Name))

	rel, err := filepath.Rel(target, destination)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: %w", entry.Name, errUnsafeEntry)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(destination, 0o755)
	}

	if err = os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	source, err := entry.Open()
	if err != nil {
		return err
	}
	defer source.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = archiveFileMode
	}

	//nolint:gosec // The destination is checked against the target directory above.
	file, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	//nolint:gosec // Asset bundles are produced by the tool maintainers.
	if _, err = io.Copy(file, source); err != nil {
		_ = file.Close()

		return err
	}

	return file.Close()
}
