package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/nuscr-editor/internal/bridge"
	"github.com/kingrea/nuscr-editor/internal/config"
	"github.com/kingrea/nuscr-editor/internal/enum"
	"github.com/kingrea/nuscr-editor/internal/eventbridge"
	"github.com/kingrea/nuscr-editor/internal/nuscr"
	"github.com/kingrea/nuscr-editor/internal/output"
)

const adderSource = "global protocol Adder(role C, role S) {\n  Add(int) from C to S;\n}\n"

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]bridge.Result
	panicOn string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args []string, _ ...bridge.Option) bridge.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	if f.panicOn != "" && args[0] == f.panicOn {
		panic("runner exploded")
	}
	if res, ok := f.results[args[0]]; ok {
		return res
	}
	return bridge.Result{Succeeded: true}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type note struct {
	level output.Level
	text  string
}

type harness struct {
	mu     sync.Mutex
	ws     *Workspace
	runner *fakeRunner
	cfg    *config.Config
	dir    string
	notes  []note
	copied []string
	opened []string
}

func newHarness(t *testing.T, results map[string]bridge.Result) *harness {
	t.Helper()
	t.Setenv(config.EnvToolPath, "")
	t.Setenv(config.EnvCheckOnSave, "")
	t.Setenv(config.EnvCacheDir, "")
	dir := t.TempDir()
	cfg, err := config.NewConfig(dir)
	require.NoError(t, err)
	h := &harness{runner: &fakeRunner{results: results}, cfg: cfg, dir: dir}
	client := nuscr.NewClient(cfg.ToolPath, nuscr.WithRunner(h.runner))
	h.ws = New(cfg, client,
		WithNotifier(func(level output.Level, msg string) {
			h.mu.Lock()
			h.notes = append(h.notes, note{level: level, text: msg})
			h.mu.Unlock()
		}),
		WithClipboard(func(text string) error {
			h.copied = append(h.copied, text)
			return nil
		}),
		WithBrowser(func(url string) error {
			h.opened = append(h.opened, url)
			return nil
		}),
	)
	return h
}

func (h *harness) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (h *harness) last() note {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.notes) == 0 {
		return note{}
	}
	return h.notes[len(h.notes)-1]
}

func TestActivateRunsOnce(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.ws.Activated())
	assert.True(t, h.ws.Activate())
	assert.False(t, h.ws.Activate())
	assert.True(t, h.ws.Activated())
	assert.Equal(t, StatusIdle, h.ws.Status())
	assert.Equal(t, "nuScr: idle", h.ws.Status().Label())
}

func TestCheckFileValid(t *testing.T) {
	h := newHarness(t, nil)
	file := h.write(t, "adder.nuscr", adderSource)
	h.ws.Diagnostics().Set(file, nil)

	require.NoError(t, h.ws.CheckFile(context.Background(), file))
	assert.Equal(t, StatusOK, h.ws.Status())
	assert.False(t, h.ws.Diagnostics().Has(file))
	assert.Equal(t, note{output.LevelInfo, msgCheckValid}, h.last())
	lines := h.ws.Output().Lines()
	require.NotEmpty(t, lines)
	assert.Equal(t, "--- RUN (classical): nuscr "+file, lines[0])
	assert.Contains(t, h.ws.Output().Text(), msgValidTrailer)
}

func TestCheckFileInvalid(t *testing.T) {
	h := newHarness(t, nil)
	file := h.write(t, "adder.nuscr", adderSource)
	h.runner.results = map[string]bridge.Result{
		file: {Succeeded: false, Stderr: "Syntax error at line 2", ExitCode: 1},
	}

	err := h.ws.CheckFile(context.Background(), file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.Equal(t, StatusError, h.ws.Status())
	entries, marked := h.ws.Diagnostics().Get(file)
	assert.True(t, marked)
	assert.Empty(t, entries)
	assert.Equal(t, note{output.LevelError, msgCheckFailed}, h.last())
	assert.Contains(t, h.ws.Output().Text(), "Syntax error at line 2")
}

func TestCheckFileWithoutDocument(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.ws.CheckFile(context.Background(), ""), ErrNoFile)
	assert.Equal(t, note{output.LevelInfo, msgOpenFileFirst}, h.last())
	assert.Zero(t, h.runner.count())
}

func TestUpdateRolesBuildsTree(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "roles:\nC\nS\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)

	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	tree := h.ws.Roles()
	assert.Equal(t, file, tree.File)
	assert.Equal(t, []enum.ProtocolGroup{{Protocol: "Adder", Roles: []string{"C", "S"}}}, tree.Groups)
	assert.Equal(t, 2, tree.Count())
	assert.Equal(t, file, h.ws.File())
}

func TestUpdateRolesFailureClearsTree(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\nS\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))

	// a different file so the cached enumeration is not reused
	broken := h.write(t, "broken.nuscr", "global protocol Broken(role A {")
	h.runner.results["--enum"] = bridge.Result{Succeeded: false, Stderr: "parse error", ExitCode: 1}
	err := h.ws.UpdateRoles(context.Background(), broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, nuscr.ErrEnumFailed)
	assert.Empty(t, h.ws.Roles().Groups)
	assert.Equal(t, note{output.LevelError, msgEnumFailed}, h.last())
}

func TestUpdateRolesNotesMultipleProtocols(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\nS\n"},
	})
	file := h.write(t, "two.nuscr", adderSource+"global protocol Other(role C, role S) {}\n")
	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	assert.Equal(t, "Adder", h.ws.Roles().Groups[0].Protocol)
	assert.Contains(t, h.ws.Output().Text(), "2 protocols declared")
}

func TestEnumToOutputBypassesCache(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "roles:\nC\nS\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	require.NoError(t, h.ws.EnumToOutput(context.Background(), file))
	assert.Equal(t, 2, h.runner.count())
	assert.Equal(t, []string{"--- RUN: nuscr --enum " + file, "roles:", "C", "S"}, h.ws.Output().Lines())
}

func TestGenerateCFSMWritesDot(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--fsm=C@Adder": {Succeeded: true, Stdout: "digraph C {}"},
	})
	file := h.write(t, "adder.nuscr", adderSource)

	target, err := h.ws.GenerateCFSM(context.Background(), file, "C", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, ".nuscr-gen", "cfsm", "C.dot"), target)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "digraph C {}", string(data))
}

func TestGenerateCFSMFillsEmptyProtocolHalf(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--fsm=A@Adder": {Succeeded: true, Stdout: "digraph A {}"},
	})
	file := h.write(t, "adder.nuscr", adderSource)

	target, err := h.ws.GenerateCFSM(context.Background(), file, "A@", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, ".nuscr-gen", "cfsm", "A.dot"), target)
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, "--fsm=A@Adder", h.runner.calls[0][0])
}

func TestGenerateCFSMNeedsProtocolDeclaration(t *testing.T) {
	h := newHarness(t, nil)
	file := h.write(t, "empty.nuscr", "// nothing declared\n")

	_, err := h.ws.GenerateCFSM(context.Background(), file, "C", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, enum.ErrNoProtocol))
	assert.Equal(t, note{output.LevelError, msgProtocolMissing}, h.last())
	assert.Zero(t, h.runner.count())
}

func TestFSMForRolePicksRole(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum":        {Succeeded: true, Stdout: "roles:\nC\nS\n"},
		"--fsm=S@Adder": {Succeeded: true, Stdout: "digraph S {}"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	var offered []string
	target, err := h.ws.FSMForRole(context.Background(), file, func(protocol string, roles []string) string {
		assert.Equal(t, "Adder", protocol)
		offered = roles
		return "S"
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "S"}, offered)
	assert.Equal(t, filepath.Join(h.dir, ".nuscr-gen", "cfsm", "S.dot"), target)
}

func TestFSMForRoleAborts(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "roles:\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	_, err := h.ws.FSMForRole(context.Background(), file, func(string, []string) string { return "C" })
	assert.ErrorIs(t, err, ErrNoRoles)
	assert.Equal(t, note{output.LevelInfo, msgNoRoles}, h.last())

	h.runner.results["--enum"] = bridge.Result{Succeeded: true, Stdout: "C\n"}
	h.ws.client.Purge()
	_, err = h.ws.FSMForRole(context.Background(), file, func(string, []string) string { return "" })
	assert.ErrorIs(t, err, ErrNoSelection)
	for _, call := range h.runner.calls {
		assert.False(t, strings.HasPrefix(call[0], "--fsm="), "fsm must not run without a pick")
	}
}

func TestOpenInLive(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ws.OpenInLive(context.Background(), adderSource))
	assert.Equal(t, []string{adderSource}, h.copied)
	assert.Equal(t, []string{config.DefaultLiveURL}, h.opened)
	assert.Equal(t, note{output.LevelInfo, msgCopied}, h.notes[0])

	require.NoError(t, h.ws.OpenInLive(context.Background(), "  \n"))
	assert.Len(t, h.copied, 1)
	assert.Len(t, h.opened, 2)
	assert.Equal(t, note{output.LevelWarn, msgEmptyFile}, h.last())
}

func TestOpenInLiveBrowserFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ws.browser = func(string) error { return errors.New("no display") }
	err := h.ws.OpenInLive(context.Background(), adderSource)
	require.Error(t, err)
	assert.Equal(t, note{output.LevelError, "Failed to open nuScr Live: no display"}, h.last())
}

func TestBrowserOpenerIsQuiet(t *testing.T) {
	assert.Equal(t, io.Discard, browser.Stdout)
	assert.Equal(t, io.Discard, browser.Stderr)
}

func TestSetToolPathPersistsAndPurges(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	assert.Equal(t, 1, h.runner.count())

	require.NoError(t, h.ws.SetToolPath("/opt/nuscr/bin/nuscr"))
	assert.Equal(t, "/opt/nuscr/bin/nuscr", h.ws.ToolPath())
	assert.Equal(t, note{output.LevelInfo, "nuScr binary set to: /opt/nuscr/bin/nuscr"}, h.last())

	reloaded, err := config.NewConfig(h.dir)
	require.NoError(t, err)
	assert.Equal(t, "/opt/nuscr/bin/nuscr", reloaded.ToolPath())

	require.NoError(t, h.ws.UpdateRoles(context.Background(), file))
	assert.Equal(t, 2, h.runner.count())
}

func TestHandleHookSavedRunsCheck(t *testing.T) {
	h := newHarness(t, nil)
	file := h.write(t, "adder.nuscr", adderSource)
	h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentSaved, Path: file})
	assert.Equal(t, 1, h.runner.count())
	assert.Equal(t, StatusOK, h.ws.Status())

	require.NoError(t, h.ws.SetCheckOnSave(false))
	h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentSaved, Path: file})
	assert.Equal(t, 1, h.runner.count())
}

func TestHandleHookIgnoresOtherLanguages(t *testing.T) {
	h := newHarness(t, nil)
	h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentSaved, Path: "main.go"})
	h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentOpened, Path: "a.nuscr", LanguageID: "plaintext"})
	assert.Zero(t, h.runner.count())
}

func TestHandleHookFocusUpdatesRoles(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\nS\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeEditorFocused, Path: file})
	assert.Equal(t, 2, h.ws.Roles().Count())
}

func TestHandleHookRecoversPanics(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.panicOn = "--enum"
	file := h.write(t, "adder.nuscr", adderSource)
	assert.NotPanics(t, func() {
		h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentOpened, Path: file})
	})
	assert.Equal(t, output.LevelError, h.last().level)
	assert.Contains(t, h.last().text, "document.opened handler failed")
}

func TestListenDrainsUntilClosed(t *testing.T) {
	h := newHarness(t, map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\nS\n"},
	})
	file := h.write(t, "adder.nuscr", adderSource)
	events := make(chan eventbridge.Event, 2)
	events <- eventbridge.Event{Type: eventbridge.TypeDocumentOpened, Path: file}
	events <- eventbridge.Event{Type: eventbridge.TypeDocumentSaved, Path: file}
	close(events)
	h.ws.Listen(context.Background(), events)
	assert.Equal(t, 2, h.runner.count())
	assert.Equal(t, StatusOK, h.ws.Status())
}

// Run with -race: settings change on the UI goroutine while hooks read them
// from bridge or command goroutines.
func TestSettingsChangeDuringHooks(t *testing.T) {
	h := newHarness(t, nil)
	file := h.write(t, "adder.nuscr", adderSource)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, h.ws.SetCheckOnSave(i%2 == 0))
			assert.NoError(t, h.ws.SetToolPath(fmt.Sprintf("/opt/nuscr-%d/nuscr", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.ws.HandleHook(context.Background(), eventbridge.Event{Type: eventbridge.TypeDocumentSaved, Path: file})
			_ = h.ws.ToolPath()
		}
	}()
	wg.Wait()

	assert.Equal(t, "/opt/nuscr-49/nuscr", h.ws.ToolPath())
	assert.False(t, h.ws.CheckOnSave())
}
