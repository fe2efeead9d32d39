package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/nuscr-editor/internal/output"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	paneStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	activePaneStyle = paneStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
	paneTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	statusStyleIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	statusStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	statusStyleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusStyleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)

	noteStyleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	noteStyleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	noteStyleError = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

const keyHints = "c check · r roles · e enum · enter cfsm · o live · p path · s check-on-save · tab focus · q quit"

func (a *App) View() string {
	header := headerStyle.Render("nuScr · " + displayName(a.file))

	rolesPane := paneStyle
	outputPane := paneStyle
	if a.focus == focusRoles {
		rolesPane = activePaneStyle
	} else {
		outputPane = activePaneStyle
	}
	left := rolesPane.Render(a.renderRoles())
	right := outputPane.Render(paneTitleStyle.Render("Output") + "\n" + a.output.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	sections := []string{header, body}
	if a.mode == modeToolPath {
		sections = append(sections, a.prompt.View())
	}
	sections = append(sections, a.renderStatusBar(), hintStyle.Render(keyHints))
	return strings.Join(sections, "\n")
}

func (a *App) renderRoles() string {
	if len(a.roles.Items()) == 0 {
		note := hintStyle.Render("No roles. Press r to enumerate.")
		return paneTitleStyle.Render("Roles") + "\n" + note
	}
	return a.roles.View()
}

func (a *App) renderStatusBar() string {
	status := a.ws.Status()
	label := statusStyle(status).Render(status.Label())
	if a.inFlight > 0 {
		label = a.spinner.View() + " " + label
	}
	parts := []string{label}
	if a.ws.Diagnostics().Has(a.file) {
		parts = append(parts, statusStyleError.Render("problems"))
	}
	save := "off"
	if a.ws.CheckOnSave() {
		save = "on"
	}
	parts = append(parts,
		hintStyle.Render("bin "+a.ws.ToolPath()),
		hintStyle.Render("check-on-save "+save),
	)
	if a.bridgeURL != "" {
		parts = append(parts, hintStyle.Render("bridge "+a.bridgeURL))
	}
	line := strings.Join(parts, "  ")
	if note, ok := a.notes.Latest(); ok {
		line += "\n" + noteStyle(note.Level).Render(fmt.Sprintf("[%s] %s", note.Level, note.Message))
	}
	if a.statusMsg != "" {
		line += "\n" + hintStyle.Render(a.statusMsg)
	}
	return line
}

func statusStyle(s workspace.Status) lipgloss.Style {
	switch s {
	case workspace.StatusRunning:
		return statusStyleRunning
	case workspace.StatusOK:
		return statusStyleOK
	case workspace.StatusError:
		return statusStyleError
	default:
		return statusStyleIdle
	}
}

func noteStyle(level output.Level) lipgloss.Style {
	switch level {
	case output.LevelWarn:
		return noteStyleWarn
	case output.LevelError:
		return noteStyleError
	default:
		return noteStyleInfo
	}
}
