package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/nuscr-editor/internal/eventbridge"
	"github.com/kingrea/nuscr-editor/internal/logging"
)

func init() {
	serveCmd.Flags().StringVar(&flagHost, "host", "", "bind host (overrides config)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "bind port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	flagHost string
	flagPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the editor hook bridge without a UI",
	Long:  "Listens for document.saved, document.opened and editor.focused hooks on /events and runs the matching nuscr action for each one.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer s.Close()

		settings := eventbridge.SettingsFromConfig(s.cfg)
		// serve exists to run the bridge
		settings.Enabled = true
		if flagHost != "" {
			settings.Host = flagHost
		}
		if flagPort > 0 {
			settings.Port = flagPort
		}
		bridge, router, err := startBridge(ctx, settings, s.logger)
		if err != nil {
			return err
		}
		defer stopBridge(bridge)

		sub := router.Subscribe(eventbridge.AllKinds)
		defer sub.Close()
		fmt.Fprintf(cmd.ErrOrStderr(), "nuscr-editor bridge listening on %s\n", bridge.BaseURL())
		s.ws.Listen(ctx, sub.Events)
		return nil
	},
}

func startBridge(ctx context.Context, settings eventbridge.Settings, logger *logging.Logger) (*eventbridge.Server, *eventbridge.Router, error) {
	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(logger))
	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(router),
		eventbridge.WithLogger(logger),
	)
	if err := server.Start(ctx); err != nil {
		return nil, nil, err
	}
	return server, router, nil
}

func stopBridge(server *eventbridge.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
