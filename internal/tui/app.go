// internal/tui/app.go
//
// This is the interactive shell for nuscr-editor.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the App below
// 2. Update: keys, action results and file/hook events become new state
// 3. View: roles tree, output pane and status bar rendered with lipgloss
//
// Every nuscr invocation runs inside a tea.Cmd so the UI keeps drawing while
// the subprocess works. Results are applied in arrival order.

package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/nuscr-editor/internal/eventbridge"
	"github.com/kingrea/nuscr-editor/internal/output"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

const (
	watchInterval = time.Second
	// outputPaneLines bounds what the viewport renders; the transcript file
	// keeps everything.
	outputPaneLines = 1000
)

type paneFocus int

const (
	focusRoles paneFocus = iota
	focusOutput
)

type inputMode int

const (
	modeNormal inputMode = iota
	modeToolPath
)

// actionDoneMsg reports a finished workspace action.
type actionDoneMsg struct {
	label string
	err   error
}

type watchTickMsg time.Time

type hookMsg struct {
	event eventbridge.Event
	ok    bool
}

// Notes collects workspace notifications. The workspace calls Push from
// command goroutines, so access is locked.
type Notes struct {
	mu    sync.Mutex
	items []Note
}

// Note is one notification.
type Note struct {
	Level   output.Level
	Message string
	At      time.Time
}

// NewNotes returns an empty notification log.
func NewNotes() *Notes {
	return &Notes{}
}

// Push matches workspace.Notifier.
func (n *Notes) Push(level output.Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Note{Level: level, Message: message, At: time.Now()})
	if len(n.items) > 50 {
		n.items = n.items[len(n.items)-50:]
	}
}

// Latest returns the newest notification.
func (n *Notes) Latest() (Note, bool) {
	if n == nil {
		return Note{}, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) == 0 {
		return Note{}, false
	}
	return n.items[len(n.items)-1], true
}

// roleItem implements list.Item for one role leaf.
type roleItem struct {
	protocol string
	role     string
}

func (i roleItem) Title() string       { return i.role }
func (i roleItem) Description() string { return "protocol " + i.protocol }
func (i roleItem) FilterValue() string { return i.role }

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithNotes shares the notification log the workspace pushes to.
func WithNotes(n *Notes) AppOption {
	return func(a *App) {
		if n != nil {
			a.notes = n
		}
	}
}

// WithHooks feeds editor hooks from the event bridge into the shell.
func WithHooks(events <-chan eventbridge.Event, bridgeURL string) AppOption {
	return func(a *App) {
		a.hooks = events
		a.bridgeURL = bridgeURL
	}
}

// WithLogger attaches the diagnostic file logger.
func WithLogger(l workspace.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// App is the main application model.
type App struct {
	ws     *workspace.Workspace
	notes  *Notes
	logger workspace.Logger
	ctx    context.Context

	file      string
	fileMod   time.Time
	hooks     <-chan eventbridge.Event
	bridgeURL string

	roles     list.Model
	output    viewport.Model
	prompt    textinput.Model
	spinner   spinner.Model
	outputVer uint64

	focus     paneFocus
	mode      inputMode
	inFlight  int
	statusMsg string

	width  int
	height int
}

// NewApp builds the shell for file (which may be empty).
func NewApp(ctx context.Context, ws *workspace.Workspace, file string, opts ...AppOption) *App {
	if ctx == nil {
		ctx = context.Background()
	}
	roles := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	roles.Title = "Roles"
	roles.SetShowStatusBar(false)
	roles.SetFilteringEnabled(false)
	roles.SetShowHelp(false)

	prompt := textinput.New()
	prompt.Prompt = "nuscr path: "
	prompt.Placeholder = "nuscr"
	prompt.CharLimit = 4096

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	app := &App{
		ws:      ws,
		notes:   NewNotes(),
		logger:  nopLogger{},
		ctx:     ctx,
		file:    file,
		roles:   roles,
		output:  viewport.New(80, 20),
		prompt:  prompt,
		spinner: spin,
		focus:   focusRoles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if file != "" {
		app.fileMod = modTime(file)
		ws.Select(file)
	}
	app.sync()
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.scheduleWatch()}
	if a.file != "" {
		cmds = append(cmds, a.runHook(eventbridge.Event{
			Type:       eventbridge.TypeDocumentOpened,
			Path:       a.file,
			LanguageID: eventbridge.LanguageNuscr,
		}))
	}
	if a.hooks != nil {
		cmds = append(cmds, a.waitForHook())
	}
	return tea.Batch(cmds...)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case actionDoneMsg:
		if a.inFlight > 0 {
			a.inFlight--
		}
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("%s: %v", msg.label, msg.err)
		} else {
			a.statusMsg = msg.label + " done"
		}
		a.sync()
		return a, nil

	case watchTickMsg:
		return a, tea.Batch(a.checkFileChanged(), a.scheduleWatch())

	case hookMsg:
		if !msg.ok {
			a.hooks = nil
			return a, nil
		}
		if msg.event.IsNuscr() && msg.event.Type != eventbridge.TypeDocumentSaved {
			a.file = msg.event.Path
			a.fileMod = modTime(a.file)
		}
		return a, tea.Batch(a.runHook(msg.event), a.waitForHook())

	case spinner.TickMsg:
		if a.inFlight == 0 {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if a.mode == modeToolPath {
			return a.updatePrompt(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			if a.focus == focusRoles {
				a.focus = focusOutput
			} else {
				a.focus = focusRoles
			}
			return a, nil
		case "c":
			file := a.file
			return a, a.run("check", func(ctx context.Context) error {
				return a.ws.CheckFile(ctx, file)
			})
		case "r":
			file := a.file
			return a, a.run("roles", func(ctx context.Context) error {
				return a.ws.UpdateRoles(ctx, file)
			})
		case "e":
			file := a.file
			return a, a.run("enum", func(ctx context.Context) error {
				return a.ws.EnumToOutput(ctx, file)
			})
		case "o":
			file := a.file
			return a, a.run("open in live", func(ctx context.Context) error {
				return a.ws.OpenFileInLive(ctx, file)
			})
		case "s":
			enabled := !a.ws.CheckOnSave()
			if err := a.ws.SetCheckOnSave(enabled); err != nil {
				a.statusMsg = err.Error()
			}
			a.sync()
			return a, nil
		case "p":
			a.mode = modeToolPath
			a.prompt.SetValue(a.ws.ToolPath())
			a.prompt.CursorEnd()
			return a, a.prompt.Focus()
		case "enter":
			if a.focus != focusRoles {
				break
			}
			item, ok := a.roles.SelectedItem().(roleItem)
			if !ok {
				a.statusMsg = "No role selected"
				return a, nil
			}
			file := a.file
			return a, a.run("fsm "+item.role, func(ctx context.Context) error {
				_, err := a.ws.GenerateCFSM(ctx, file, item.role, item.protocol)
				return err
			})
		}
	}

	var cmd tea.Cmd
	switch a.focus {
	case focusRoles:
		a.roles, cmd = a.roles.Update(msg)
	case focusOutput:
		a.output, cmd = a.output.Update(msg)
	}
	return a, cmd
}

func (a *App) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = modeNormal
		a.prompt.Blur()
		return a, nil
	case "enter":
		value := strings.TrimSpace(a.prompt.Value())
		a.mode = modeNormal
		a.prompt.Blur()
		if value == "" {
			return a, nil
		}
		if err := a.ws.SetToolPath(value); err != nil {
			a.statusMsg = err.Error()
		}
		a.sync()
		return a, nil
	}
	var cmd tea.Cmd
	a.prompt, cmd = a.prompt.Update(msg)
	return a, cmd
}

// run executes fn off the update loop and reports back with actionDoneMsg.
func (a *App) run(label string, fn func(context.Context) error) tea.Cmd {
	a.inFlight++
	a.statusMsg = label + "..."
	ctx := a.ctx
	logger := a.logger
	action := func() tea.Msg {
		err := fn(ctx)
		if err != nil {
			logger.Printf("tui: %s: %v", label, err)
		}
		return actionDoneMsg{label: label, err: err}
	}
	return tea.Batch(action, a.spinner.Tick)
}

func (a *App) runHook(evt eventbridge.Event) tea.Cmd {
	return a.run(evt.Type, func(ctx context.Context) error {
		a.ws.HandleHook(ctx, evt)
		return nil
	})
}

func (a *App) waitForHook() tea.Cmd {
	events := a.hooks
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-events
		return hookMsg{event: evt, ok: ok}
	}
}

func (a *App) scheduleWatch() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// checkFileChanged turns an mtime change on the current file into a save hook.
func (a *App) checkFileChanged() tea.Cmd {
	if a.file == "" {
		return nil
	}
	current := modTime(a.file)
	if current.IsZero() || current.Equal(a.fileMod) {
		return nil
	}
	a.fileMod = current
	return a.runHook(eventbridge.Event{
		Type:       eventbridge.TypeDocumentSaved,
		Path:       a.file,
		LanguageID: eventbridge.LanguageNuscr,
	})
}

// sync copies workspace state into the bubbles components.
func (a *App) sync() {
	if v := a.ws.Output().Version(); v != a.outputVer {
		a.outputVer = v
		a.output.SetContent(a.outputText())
		a.output.GotoBottom()
	}
	tree := a.ws.Roles()
	items := make([]list.Item, 0, tree.Count())
	for _, group := range tree.Groups {
		for _, role := range group.Roles {
			items = append(items, roleItem{protocol: group.Protocol, role: role})
		}
	}
	a.roles.SetItems(items)
}

func (a *App) outputText() string {
	out := a.ws.Output()
	lines, total := out.Tail(outputPaneLines)
	if hidden := total - len(lines); hidden > 0 {
		header := fmt.Sprintf("... %d earlier lines", hidden)
		if path := out.Path(); path != "" {
			header += " in " + path
		}
		lines = append([]string{header}, lines...)
	}
	return strings.Join(lines, "\n")
}

func (a *App) layout() {
	width := a.width
	if width <= 0 {
		width = 100
	}
	height := a.height
	if height <= 0 {
		height = 30
	}
	rolesWidth := max(24, width/3)
	bodyHeight := max(5, height-6)
	a.roles.SetSize(rolesWidth-4, bodyHeight-2)
	a.output.Width = max(20, width-rolesWidth-6)
	a.output.Height = bodyHeight - 2
	a.prompt.Width = max(20, width-20)
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func displayName(path string) string {
	if path == "" {
		return "no file"
	}
	return filepath.Base(path)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
