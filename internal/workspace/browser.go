package workspace

import (
	"fmt"
	"io"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/pkg/browser"
)

func init() {
	// the opener's chatter would land on top of the TUI
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

func writeClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard unsupported on %s", runtime.GOOS)
	}
	return clipboard.WriteAll(text)
}

// OpenBrowser hands url to the platform's default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}
