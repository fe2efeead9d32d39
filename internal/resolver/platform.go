package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform reports a host with no prebuilt release asset.
	ErrUnsupportedPlatform = errors.New("resolver: unsupported platform")
	// ErrWindowsUnsupported carries the manual-install guidance for Windows
	// hosts, where no prebuilt asset is published.
	ErrWindowsUnsupported = errors.New("resolver: no prebuilt nuscr for windows; install nuscr manually (e.g. via opam under WSL) and set nuscr_path in .nuscr/config.yaml")
)

var platformIDs = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-arm64",
	"darwin/amd64": "macos-x64",
	"darwin/arm64": "macos-arm64",
}

// Platform maps a GOOS/GOARCH pair onto the release asset identifier.
func Platform(goos, goarch string) (string, error) {
	if goos == "windows" {
		return "", ErrWindowsUnsupported
	}
	id, ok := platformIDs[goos+"/"+goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return id, nil
}
