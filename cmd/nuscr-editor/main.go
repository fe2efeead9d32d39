// cmd/nuscr-editor/main.go
//
// Entry point for the nuscr-editor CLI. Every subcommand opens a session for
// the project directory (config, log file, output channel, workspace) and
// then drives one workspace action. Running with no subcommand starts the TUI.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingrea/nuscr-editor/internal/config"
	"github.com/kingrea/nuscr-editor/internal/logging"
	"github.com/kingrea/nuscr-editor/internal/nuscr"
	"github.com/kingrea/nuscr-editor/internal/output"
	"github.com/kingrea/nuscr-editor/internal/resolver"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

var (
	flagProject string
	flagOffline bool
	flagFormat  string
)

// errorHandled is set when a command already reported its failure.
var errorHandled bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "nuscr-editor [file]",
	Short:         "Check, enumerate and project nuScr protocols",
	Long:          "nuscr-editor drives the nuscr binary: classical validation, role enumeration and per-role CFSM generation, from a terminal UI, the command line, or editor hooks posted to a local HTTP bridge.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project directory holding .nuscr/ (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "never download the nuscr release; use the configured path as-is")
}

// session bundles everything a command needs for one project.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
	out    *output.Channel
	client *nuscr.Client
	tools  *toolLocator
	ws     *workspace.Workspace
}

func (s *session) Close() {
	if s == nil {
		return
	}
	_ = s.logger.Close()
}

// openSession loads config and wires the workspace. Output is mirrored to
// mirror when it is non-nil. The nuscr binary is not located until a command
// first runs it.
func openSession(ctx context.Context, mirror io.Writer, opts ...workspace.Option) (*session, error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if err := config.InitProjectDir(projectDir); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", config.ProjectDirName, err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(projectDir)
	if err != nil {
		return nil, err
	}
	out, err := output.New(filepath.Join(cfg.LogsDir(), "output.log"))
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("opening output channel: %w", err)
	}
	out.Mirror(mirror)

	release := cfg.Snapshot().Release
	res, err := resolver.New(resolver.Options{
		Version:      release.Version,
		Tag:          release.Tag,
		BaseURL:      release.BaseURL,
		AssetPattern: release.AssetPattern,
		CacheDir:     cfg.CacheDir(),
		Logger:       logger,
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	tools := &toolLocator{
		cfg:      cfg,
		resolver: res,
		offline:  flagOffline,
		ctx:      ctx,
		warn: func(err error) {
			// the configured path is still tried; a missing binary surfaces
			// as a failed run with the spawn error in the output channel
			logger.Printf("resolve nuscr: %v", err)
			out.Notify(output.LevelWarn, err.Error())
		},
	}
	client := nuscr.NewClient(tools.Path)
	wsOpts := append([]workspace.Option{
		workspace.WithOutput(out),
		workspace.WithLogger(logger),
	}, opts...)
	ws := workspace.New(cfg, client, wsOpts...)
	s := &session{cfg: cfg, logger: logger, out: out, client: client, tools: tools, ws: ws}
	ws.Activate()
	return s, nil
}

func resolveProjectDir() (string, error) {
	if flagProject != "" {
		return filepath.Abs(flagProject)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return cwd, nil
}

// toolLocator resolves the binary the first time a command actually spawns
// nuscr, and remembers the result for the configured path it came from.
// Changing the configured path triggers a fresh resolution on next use.
type toolLocator struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	offline  bool
	ctx      context.Context
	warn     func(error)

	mu          sync.Mutex
	resolvedFor string
	resolved    string
}

// Resolve finds (or downloads) the binary for the current configuration.
// A failure is remembered too, so later runs use the configured path as-is
// instead of retrying the download.
func (l *toolLocator) Resolve(ctx context.Context) (string, error) {
	configured := l.cfg.ToolPath()
	if l.offline || l.resolver == nil {
		return configured, nil
	}
	path, err := l.resolver.Resolve(ctx, configured)
	if err != nil {
		path = configured
	}
	l.mu.Lock()
	l.resolvedFor = configured
	l.resolved = path
	l.mu.Unlock()
	return path, err
}

// Path is handed to nuscr.Client and consulted before every invocation.
func (l *toolLocator) Path() string {
	configured := l.cfg.ToolPath()
	l.mu.Lock()
	if l.resolved != "" && l.resolvedFor == configured {
		defer l.mu.Unlock()
		return l.resolved
	}
	l.mu.Unlock()
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	path, err := l.Resolve(ctx)
	if err != nil && l.warn != nil {
		l.warn(err)
	}
	return path
}
