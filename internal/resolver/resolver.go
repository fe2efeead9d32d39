// Package resolver locates a runnable nuscr binary. A configured path always
// wins; otherwise the release asset for the host platform is downloaded once
// into a version-keyed cache directory and reused from then on.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultVersion is the nuscr release fetched when nothing is configured.
	DefaultVersion = "2.1.1"
	// DefaultBaseURL hosts the nuscr release assets.
	DefaultBaseURL = "https://github.com/nuscr/nuscr"
	// DefaultAssetPattern names the per-platform asset; {platform} is replaced
	// with the identifier from Platform.
	DefaultAssetPattern = "nuscr-{platform}"

	binaryName      = "nuscr"
	downloadTimeout = 5 * time.Minute
)

// Logger matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configure a Resolver. Zero values fall back to the defaults.
type Options struct {
	Version      string
	Tag          string
	BaseURL      string
	AssetPattern string
	CacheDir     string
	Client       *http.Client
	GOOS         string
	GOARCH       string
	Logger       Logger
}

// Resolver finds or fetches the nuscr executable.
type Resolver struct {
	version      string
	tag          string
	baseURL      string
	assetPattern string
	cacheDir     string
	client       *http.Client
	goos         string
	goarch       string
	logger       Logger
	lookPath     func(string) (string, error)

	downloads singleflight.Group
}

// New builds a Resolver from opts.
func New(opts Options) (*Resolver, error) {
	r := &Resolver{
		version:      strings.TrimSpace(opts.Version),
		tag:          strings.TrimSpace(opts.Tag),
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		assetPattern: strings.TrimSpace(opts.AssetPattern),
		cacheDir:     strings.TrimSpace(opts.CacheDir),
		client:       opts.Client,
		goos:         opts.GOOS,
		goarch:       opts.GOARCH,
		logger:       opts.Logger,
		lookPath:     exec.LookPath,
	}
	if r.version == "" {
		r.version = DefaultVersion
	}
	if r.tag == "" {
		r.tag = r.version
	}
	if r.baseURL == "" {
		r.baseURL = DefaultBaseURL
	}
	if r.assetPattern == "" {
		r.assetPattern = DefaultAssetPattern
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: downloadTimeout}
	}
	if r.goos == "" {
		r.goos = runtime.GOOS
	}
	if r.goarch == "" {
		r.goarch = runtime.GOARCH
	}
	if r.cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolver: locate user cache dir: %w", err)
		}
		r.cacheDir = filepath.Join(base, "nuscr-editor")
	}
	return r, nil
}

// Version reports the release version this resolver caches.
func (r *Resolver) Version() string { return r.version }

// CachePath returns where the binary for platform lives in the cache.
func (r *Resolver) CachePath(platform string) string {
	name := binaryName
	if r.goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(r.cacheDir, r.version, platform, name)
}

// AssetName returns the release asset for platform.
func (r *Resolver) AssetName(platform string) string {
	return strings.ReplaceAll(r.assetPattern, "{platform}", platform)
}

// AssetURL returns the download location for platform.
func (r *Resolver) AssetURL(platform string) string {
	return fmt.Sprintf("%s/releases/download/%s/%s", r.baseURL, r.tag, r.AssetName(platform))
}

// Resolve returns a path to a runnable nuscr. An override that exists on disk
// (or, for a bare command name, on PATH) is returned as-is. Otherwise the
// cached release is used, downloading it on first use. Concurrent misses for
// the same cache path share one download.
func (r *Resolver) Resolve(ctx context.Context, override string) (string, error) {
	if path, ok := r.fromOverride(override); ok {
		return path, nil
	}
	platform, err := Platform(r.goos, r.goarch)
	if err != nil {
		return "", err
	}
	target := r.CachePath(platform)
	if fileExists(target) {
		if err := EnsureExecutable(r.goos, target); err != nil {
			r.logf("resolver: %v", err)
		}
		return target, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	v, err, shared := r.downloads.Do(target, func() (any, error) {
		if fileExists(target) {
			return target, nil
		}
		if err := r.download(ctx, platform, target); err != nil {
			return "", err
		}
		return target, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logf("resolver: joined in-flight download for %s", target)
	}
	return v.(string), nil
}

func (r *Resolver) fromOverride(override string) (string, bool) {
	override = strings.TrimSpace(override)
	if override == "" {
		return "", false
	}
	if fileExists(override) {
		return override, true
	}
	if strings.ContainsRune(override, os.PathSeparator) || strings.Contains(override, "/") {
		return "", false
	}
	if r.lookPath == nil {
		return "", false
	}
	found, err := r.lookPath(override)
	if err != nil {
		return "", false
	}
	return found, true
}

func (r *Resolver) download(ctx context.Context, platform, target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resolver: create cache dir: %w", err)
	}
	url := r.AssetURL(platform)
	r.logf("resolver: downloading %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("resolver: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resolver: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolver: download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("resolver: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("resolver: write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("resolver: write asset: %w", err)
	}

	source := tmpPath
	if kind := archiveKind(r.AssetName(platform)); kind != archiveNone {
		unpacked := tmpPath + ".bin"
		defer os.Remove(unpacked)
		if err := extractBinary(kind, tmpPath, unpacked); err != nil {
			return err
		}
		source = unpacked
	}
	if r.goos != "windows" {
		if err := os.Chmod(source, 0o755); err != nil {
			return fmt.Errorf("resolver: mark executable: %w", err)
		}
	}
	if err := os.Rename(source, target); err != nil {
		return fmt.Errorf("resolver: install binary: %w", err)
	}
	r.logf("resolver: installed nuscr %s at %s", r.version, target)
	return nil
}

// EnsureExecutable repairs missing execute bits on an existing binary. It is a
// no-op when goos has no execute bits.
func EnsureExecutable(goos, path string) error {
	if goos == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("resolver: stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
		return fmt.Errorf("resolver: chmod %s: %w", path, err)
	}
	return nil
}

func (r *Resolver) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
