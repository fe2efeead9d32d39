// Package workspace owns the editor-side display state: the status text, the
// output channel, the diagnostics set and the roles tree. Every user action
// and editor hook funnels through a Workspace so the TUI, the CLI and the
// event bridge share one behaviour.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kingrea/nuscr-editor/internal/config"
	"github.com/kingrea/nuscr-editor/internal/enum"
	"github.com/kingrea/nuscr-editor/internal/nuscr"
	"github.com/kingrea/nuscr-editor/internal/output"
	"github.com/kingrea/nuscr-editor/internal/selector"
)

// Status is the short state shown in the status bar.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusOK      Status = "OK"
	StatusError   Status = "error"
)

// Label renders the status the way the status bar shows it.
func (s Status) Label() string {
	return "nuScr: " + string(s)
}

var (
	// ErrNoFile is returned when an action needs a document and none is selected.
	ErrNoFile = errors.New("workspace: no nuscr file selected")
	// ErrNoRoles is returned when enumeration yields nothing to pick from.
	ErrNoRoles = errors.New("workspace: no roles found")
	// ErrNoSelection is returned when the role pick is cancelled.
	ErrNoSelection = errors.New("workspace: no role selected")
	// ErrCheckFailed reports a non-zero classical check.
	ErrCheckFailed = errors.New("workspace: check failed")
)

// User-facing notification texts.
const (
	msgOpenFileFirst   = "Open a .nuscr file first."
	msgCheckFailed     = "nuScr: check failed (see Output)."
	msgCheckValid      = "nuScr: Protocol is valid (classical nuscr)."
	msgValidTrailer    = "Classical nuScr: no output, protocol appears valid."
	msgEnumFailed      = "nuscr --enum failed (see Output)."
	msgFSMFailed       = "nuscr --fsm failed (see Output)."
	msgProtocolMissing = `Protocol name not found in file (e.g. "protocol Adder(...)").`
	msgNoRoles         = "No roles found in file."
	msgCopied          = "Protocol copied to clipboard!"
	msgEmptyFile       = "File is empty, nothing copied."
)

// Notifier receives user-facing notifications.
type Notifier func(level output.Level, message string)

// Logger matches logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// RolePicker chooses one role from the enumerated list. Returning "" cancels.
type RolePicker func(protocol string, roles []string) string

// RolesTree is the protocol/role tree for the selected file.
type RolesTree struct {
	File   string
	Groups []enum.ProtocolGroup
}

// Count returns the number of role leaves.
func (t RolesTree) Count() int {
	return enum.Count(t.Groups)
}

// Workspace is the lifecycle owner for one editor session.
type Workspace struct {
	cfg       *config.Config
	client    *nuscr.Client
	out       *output.Channel
	diags     *Diagnostics
	logger    Logger
	notify    Notifier
	clipboard func(string) error
	browser   func(string) error

	mu     sync.Mutex
	status Status
	roles  RolesTree
	file   string

	activateOnce sync.Once
	activated    bool
}

// Option customizes a Workspace.
type Option func(*Workspace)

// WithNotifier routes notifications to n in addition to the output channel.
func WithNotifier(n Notifier) Option {
	return func(w *Workspace) {
		if n != nil {
			w.notify = n
		}
	}
}

// WithLogger attaches the diagnostic file logger.
func WithLogger(l Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOutput replaces the default memory-only output channel.
func WithOutput(ch *output.Channel) Option {
	return func(w *Workspace) {
		if ch != nil {
			w.out = ch
		}
	}
}

// WithClipboard overrides the clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(w *Workspace) {
		if fn != nil {
			w.clipboard = fn
		}
	}
}

// WithBrowser overrides how URLs are opened.
func WithBrowser(fn func(string) error) Option {
	return func(w *Workspace) {
		if fn != nil {
			w.browser = fn
		}
	}
}

// New builds a workspace around cfg and client. Nothing runs until Activate.
func New(cfg *config.Config, client *nuscr.Client, opts ...Option) *Workspace {
	out, _ := output.New("")
	w := &Workspace{
		cfg:       cfg,
		client:    client,
		out:       out,
		diags:     NewDiagnostics(),
		logger:    nopLogger{},
		notify:    func(output.Level, string) {},
		clipboard: writeClipboard,
		browser:   OpenBrowser,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Activate performs one-time setup. Repeated calls are no-ops and report false.
func (w *Workspace) Activate() bool {
	first := false
	w.activateOnce.Do(func() {
		first = true
		w.mu.Lock()
		w.activated = true
		w.status = StatusIdle
		w.mu.Unlock()
		w.logger.Printf("workspace: activated (nuscr=%s, check_on_save=%t)", w.ToolPath(), w.checkOnSave())
	})
	return first
}

// Activated reports whether Activate has run.
func (w *Workspace) Activated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activated
}

// Status returns the current status.
func (w *Workspace) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Output exposes the output channel.
func (w *Workspace) Output() *output.Channel {
	return w.out
}

// Diagnostics exposes the diagnostics collection.
func (w *Workspace) Diagnostics() *Diagnostics {
	return w.diags
}

// Roles returns a copy of the roles tree.
func (w *Workspace) Roles() RolesTree {
	w.mu.Lock()
	defer w.mu.Unlock()
	groups := make([]enum.ProtocolGroup, len(w.roles.Groups))
	for i, g := range w.roles.Groups {
		groups[i] = enum.ProtocolGroup{Protocol: g.Protocol, Roles: append([]string(nil), g.Roles...)}
	}
	return RolesTree{File: w.roles.File, Groups: groups}
}

// File returns the selected document.
func (w *Workspace) File() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file
}

// Select marks file as the active document.
func (w *Workspace) Select(file string) {
	w.mu.Lock()
	w.file = file
	w.mu.Unlock()
}

// ToolPath reports the configured nuscr path. Unlike the client's path it
// never resolves or downloads anything, so the UI can show it freely.
func (w *Workspace) ToolPath() string {
	if w.cfg == nil {
		return w.client.ToolPath()
	}
	return w.cfg.ToolPath()
}

// CheckOnSave reports the current check-on-save setting.
func (w *Workspace) CheckOnSave() bool {
	return w.checkOnSave()
}

// CheckFile runs the classical check `nuscr <file>`.
func (w *Workspace) CheckFile(ctx context.Context, file string) error {
	if file == "" {
		w.raise(output.LevelInfo, msgOpenFileFirst)
		return ErrNoFile
	}
	w.setStatus(StatusRunning)
	w.out.Clear()
	w.out.AppendLine("--- RUN (classical): " + w.client.CommandLine(file))
	res := w.client.Check(ctx, file)
	w.appendStreams(res.Stdout, res.Stderr)
	w.logger.Printf("workspace: check %s exit=%d", file, res.ExitCode)
	if !res.Succeeded {
		w.diags.Set(file, []Diagnostic{})
		w.setStatus(StatusError)
		w.raise(output.LevelError, msgCheckFailed)
		return fmt.Errorf("%w: %s (exit %d)", ErrCheckFailed, file, res.ExitCode)
	}
	w.out.AppendLine(msgValidTrailer)
	w.diags.Delete(file)
	w.setStatus(StatusOK)
	w.raise(output.LevelInfo, msgCheckValid)
	return nil
}

// UpdateRoles enumerates file and rebuilds the roles tree. The tree is
// cleared when enumeration fails.
func (w *Workspace) UpdateRoles(ctx context.Context, file string) error {
	if file == "" {
		return ErrNoFile
	}
	w.Select(file)
	w.out.Clear()
	w.out.AppendLine("--- RUN: " + w.client.CommandLine("--enum", file))
	groups, res, err := w.client.Roles(ctx, file)
	if res.Cached {
		w.out.AppendLine("(unchanged since last enumeration)")
	}
	w.appendStreams(res.Stdout, res.Stderr)
	if err != nil {
		w.setRoles(RolesTree{File: file})
		if errors.Is(err, nuscr.ErrEnumFailed) {
			w.raise(output.LevelError, msgEnumFailed)
		}
		w.logger.Printf("workspace: roles %s: %v", file, err)
		return err
	}
	w.setRoles(RolesTree{File: file, Groups: groups})
	if src, readErr := os.ReadFile(file); readErr == nil {
		if names := enum.ProtocolNames(string(src)); len(names) > 1 {
			w.out.Appendf("note: %d protocols declared; roles are grouped under %s", len(names), names[0])
		}
	}
	return nil
}

// EnumToOutput writes the raw `nuscr --enum` output to the output channel.
func (w *Workspace) EnumToOutput(ctx context.Context, file string) error {
	if file == "" {
		w.raise(output.LevelInfo, msgOpenFileFirst)
		return ErrNoFile
	}
	w.out.Clear()
	w.out.AppendLine("--- RUN: " + w.client.CommandLine("--enum", file))
	w.client.Forget(file)
	res, err := w.client.Enumerate(ctx, file)
	w.appendStreams(res.Stdout, res.Stderr)
	if err != nil {
		w.raise(output.LevelError, msgEnumFailed)
		return err
	}
	return nil
}

// GenerateCFSM runs `nuscr --fsm=<role>@<protocol>` and writes the dot file.
// An empty protocol is taken from the file's declaration.
func (w *Workspace) GenerateCFSM(ctx context.Context, file, role, protocol string) (string, error) {
	if file == "" {
		w.raise(output.LevelInfo, msgOpenFileFirst)
		return "", ErrNoFile
	}
	if protocol == "" && !selector.HasProtocol(role) {
		name, err := enum.ProtocolNameFromFile(file)
		if err != nil {
			w.raise(output.LevelError, msgProtocolMissing)
			return "", err
		}
		protocol = name
	}
	sel := selector.Build(role, protocol)
	w.out.AppendLine("--- RUN: " + w.client.CommandLine(nuscr.FSMArgs(sel, file)...))
	res, _, err := w.client.FSM(ctx, file, role, protocol)
	w.appendStreams(res.Stdout, res.Stderr)
	if err != nil {
		w.raise(output.LevelError, msgFSMFailed)
		return "", err
	}
	effective, _ := selector.Split(sel)
	target, err := nuscr.WriteCFSM(file, effective, res.Stdout)
	if err != nil {
		// the dot text is already in the output channel
		w.logger.Printf("workspace: %v", err)
		return "", nil
	}
	w.out.Appendf("CFSM written to %s", target)
	return target, nil
}

// FSMForRole extracts the protocol, enumerates roles, lets pick choose one,
// then generates its CFSM.
func (w *Workspace) FSMForRole(ctx context.Context, file string, pick RolePicker) (string, error) {
	if file == "" {
		w.raise(output.LevelInfo, msgOpenFileFirst)
		return "", ErrNoFile
	}
	protocol, err := enum.ProtocolNameFromFile(file)
	if err != nil {
		w.raise(output.LevelError, msgProtocolMissing)
		return "", err
	}
	w.out.Clear()
	w.out.AppendLine("--- RUN: " + w.client.CommandLine("--enum", file))
	res, err := w.client.Enumerate(ctx, file)
	w.appendStreams(res.Stdout, res.Stderr)
	if err != nil {
		w.raise(output.LevelError, msgEnumFailed)
		return "", err
	}
	if len(res.Roles) == 0 {
		w.raise(output.LevelInfo, msgNoRoles)
		return "", ErrNoRoles
	}
	role := ""
	if pick != nil {
		role = strings.TrimSpace(pick(protocol, res.Roles))
	}
	if role == "" {
		return "", ErrNoSelection
	}
	return w.GenerateCFSM(ctx, file, role, protocol)
}

// OpenInLive copies text to the clipboard and opens nuScr Live.
func (w *Workspace) OpenInLive(_ context.Context, text string) error {
	if strings.TrimSpace(text) != "" {
		if err := w.clipboard(text); err != nil {
			w.raise(output.LevelError, "Failed to open nuScr Live: "+err.Error())
			return fmt.Errorf("workspace: copy to clipboard: %w", err)
		}
		w.raise(output.LevelInfo, msgCopied)
	} else {
		w.raise(output.LevelWarn, msgEmptyFile)
	}
	url := w.liveURL()
	if err := w.browser(url); err != nil {
		w.raise(output.LevelError, "Failed to open nuScr Live: "+err.Error())
		return fmt.Errorf("workspace: open %s: %w", url, err)
	}
	return nil
}

// OpenFileInLive reads file and hands its text to OpenInLive.
func (w *Workspace) OpenFileInLive(ctx context.Context, file string) error {
	if file == "" {
		w.raise(output.LevelInfo, msgOpenFileFirst)
		return ErrNoFile
	}
	data, err := os.ReadFile(file)
	if err != nil {
		w.raise(output.LevelError, "Failed to open nuScr Live: "+err.Error())
		return fmt.Errorf("workspace: read %s: %w", file, err)
	}
	return w.OpenInLive(ctx, string(data))
}

// SetToolPath persists the nuscr binary override and drops cached results
// produced by the previous binary.
func (w *Workspace) SetToolPath(path string) error {
	path = strings.TrimSpace(path)
	if w.cfg == nil {
		return errors.New("workspace: no project config")
	}
	if err := w.cfg.SetToolPath(path); err != nil {
		w.raise(output.LevelError, err.Error())
		return err
	}
	w.client.Purge()
	w.raise(output.LevelInfo, "nuScr binary set to: "+path)
	return nil
}

// SetCheckOnSave persists the check-on-save toggle.
func (w *Workspace) SetCheckOnSave(enabled bool) error {
	if w.cfg == nil {
		return errors.New("workspace: no project config")
	}
	if err := w.cfg.SetCheckOnSave(enabled); err != nil {
		w.raise(output.LevelError, err.Error())
		return err
	}
	state := "off"
	if enabled {
		state = "on"
	}
	w.raise(output.LevelInfo, "Check on save: "+state)
	return nil
}

func (w *Workspace) checkOnSave() bool {
	if w.cfg == nil {
		return true
	}
	return w.cfg.CheckOnSave()
}

func (w *Workspace) liveURL() string {
	if w.cfg == nil || w.cfg.LiveURL() == "" {
		return config.DefaultLiveURL
	}
	return w.cfg.LiveURL()
}

func (w *Workspace) appendStreams(stdout, stderr string) {
	if stdout != "" {
		w.out.AppendLine(stdout)
	}
	if stderr != "" {
		w.out.AppendLine(stderr)
	}
}

func (w *Workspace) raise(level output.Level, message string) {
	w.out.Notify(level, message)
	w.notify(level, message)
}

func (w *Workspace) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func (w *Workspace) setRoles(tree RolesTree) {
	w.mu.Lock()
	w.roles = tree
	w.mu.Unlock()
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
