// Package output is the text surface nuscr results are forwarded to. The
// channel keeps the current run in memory for display and mirrors every line
// to a transcript file so output survives after the UI closes.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a notification entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const defaultMaxLines = 5000

// Channel collects output lines for the active run.
type Channel struct {
	path     string
	maxLines int

	mu      sync.Mutex
	lines   []string
	version uint64
	mirror  io.Writer
}

// New creates a channel whose transcript is appended to path. An empty path
// keeps the channel memory-only.
func New(path string) (*Channel, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	return &Channel{path: path, maxLines: defaultMaxLines}, nil
}

// Path returns the transcript file backing this channel.
func (c *Channel) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Mirror echoes every appended line to w (the CLI passes os.Stdout). A nil
// writer stops mirroring.
func (c *Channel) Mirror(w io.Writer) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mirror = w
	c.mu.Unlock()
}

// AppendLine adds text to the channel. Multi-line text is split so every
// stored entry is one display line.
func (c *Channel) AppendLine(text string) {
	if c == nil {
		return
	}
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	parts := strings.Split(text, "\n")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, parts...)
	if over := len(c.lines) - c.maxLines; over > 0 {
		c.lines = c.lines[over:]
	}
	c.version++
	chunk := strings.Join(parts, "\n") + "\n"
	c.writeTranscript(chunk)
	if c.mirror != nil {
		_, _ = io.WriteString(c.mirror, chunk)
	}
}

// Appendf formats and appends a line.
func (c *Channel) Appendf(format string, args ...any) {
	c.AppendLine(fmt.Sprintf(format, args...))
}

// Clear drops the in-memory lines and marks a run boundary in the transcript.
func (c *Channel) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.version++
	c.writeTranscript(fmt.Sprintf("==== %s ====\n", time.Now().UTC().Format(time.RFC3339)))
}

// Notify records a user-facing notification with its level.
func (c *Channel) Notify(level Level, message string) {
	c.AppendLine(fmt.Sprintf("[%s] %s", level, strings.TrimSpace(message)))
}

// Lines returns a copy of the current run's lines.
func (c *Channel) Lines() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Text joins the current run's lines.
func (c *Channel) Text() string {
	return strings.Join(c.Lines(), "\n")
}

// Version increments on every mutation; views compare it to skip re-rendering.
func (c *Channel) Version() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Tail returns up to maxLines of the most recent lines and the total held.
func (c *Channel) Tail(maxLines int) ([]string, int) {
	if c == nil || maxLines <= 0 {
		return nil, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	total := len(c.lines)
	if total == 0 {
		return nil, 0
	}
	start := 0
	if total > maxLines {
		start = total - maxLines
	}
	return append([]string(nil), c.lines[start:]...), total
}

// writeTranscript must be called with mu held.
func (c *Channel) writeTranscript(chunk string) {
	if c.path == "" {
		return
	}
	file, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(chunk)
}
