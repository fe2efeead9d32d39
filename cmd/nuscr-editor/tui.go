package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/nuscr-editor/internal/eventbridge"
	"github.com/kingrea/nuscr-editor/internal/output"
	"github.com/kingrea/nuscr-editor/internal/tui"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

func init() {
	rootCmd.AddCommand(tuiCmd)
}

var tuiCmd = &cobra.Command{
	Use:   "tui [file]",
	Short: "Open the interactive shell (default command)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	notes := tui.NewNotes()
	s, err := openSession(ctx, nil, workspace.WithNotifier(notes.Push))
	if err != nil {
		return err
	}
	defer s.Close()

	file := ""
	if len(args) == 1 {
		file = args[0]
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("opening %s: %w", file, err)
		}
	}
	opts := []tui.AppOption{tui.WithNotes(notes), tui.WithLogger(s.logger)}

	settings := eventbridge.SettingsFromConfig(s.cfg)
	if settings.Enabled {
		bridge, router, err := startBridge(ctx, settings, s.logger)
		if err != nil {
			s.logger.Printf("event bridge disabled: %v", err)
			notes.Push(output.LevelWarn, fmt.Sprintf("event bridge not started: %v", err))
		} else {
			defer stopBridge(bridge)
			sub := router.Subscribe(eventbridge.AllKinds)
			defer sub.Close()
			opts = append(opts, tui.WithHooks(sub.Events, bridge.BaseURL()))
		}
	}

	p := tea.NewProgram(
		tui.NewApp(ctx, s.ws, file, opts...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
