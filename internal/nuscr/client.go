// Package nuscr wraps the three invocations the editor needs from the nuscr
// binary: a classical check, role enumeration and CFSM generation.
package nuscr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kingrea/nuscr-editor/internal/bridge"
	"github.com/kingrea/nuscr-editor/internal/enum"
	"github.com/kingrea/nuscr-editor/internal/selector"
)

var (
	// ErrEnumFailed reports a non-zero `nuscr --enum` run.
	ErrEnumFailed = errors.New("nuscr: --enum failed")
	// ErrFSMFailed reports a non-zero `nuscr --fsm` run.
	ErrFSMFailed = errors.New("nuscr: --fsm failed")
)

const (
	enumFlag      = "--enum"
	fsmFlagPrefix = "--fsm="
	enumCacheSize = 64
	generatedDir  = ".nuscr-gen"
	cfsmSubdir    = "cfsm"
	cfsmExtension = ".dot"
)

// EnumResult is the raw and parsed output of one enumeration.
type EnumResult struct {
	bridge.Result
	Roles  []string
	Cached bool
}

// Client runs nuscr through a bridge.Runner.
type Client struct {
	runner bridge.Runner
	path   func() string
	cache  *lru.Cache[enumKey, []string]
}

type enumKey struct {
	path    string
	modTime int64
	size    int64
}

// Option customizes a Client.
type Option func(*Client)

// WithRunner swaps the process runner (tests use fakes).
func WithRunner(r bridge.Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithoutEnumCache disables reuse of enumeration results.
func WithoutEnumCache() Option {
	return func(c *Client) {
		c.cache = nil
	}
}

// NewClient builds a client. toolPath is consulted on every call so a path
// changed mid-session takes effect immediately.
func NewClient(toolPath func() string, opts ...Option) *Client {
	cache, _ := lru.New[enumKey, []string](enumCacheSize)
	c := &Client{
		runner: bridge.ExecRunner{},
		path:   toolPath,
		cache:  cache,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ToolPath returns the executable the next invocation will use.
func (c *Client) ToolPath() string {
	if c.path == nil {
		return "nuscr"
	}
	return c.path()
}

// CommandLine renders an invocation for the output channel.
func (c *Client) CommandLine(args ...string) string {
	return strings.TrimSpace(c.ToolPath() + " " + strings.Join(args, " "))
}

// Check runs the classical validation `nuscr <file>`.
func (c *Client) Check(ctx context.Context, file string) bridge.Result {
	return c.runner.Run(ctx, c.ToolPath(), []string{file}, runOpts(file)...)
}

// Enumerate runs `nuscr --enum <file>` and parses the roles. Unchanged files
// are answered from the cache.
func (c *Client) Enumerate(ctx context.Context, file string) (EnumResult, error) {
	key, keyed := statKey(file)
	if keyed && c.cache != nil {
		if roles, ok := c.cache.Get(key); ok {
			return EnumResult{
				Result: bridge.Result{Succeeded: true},
				Roles:  append([]string(nil), roles...),
				Cached: true,
			}, nil
		}
	}
	res := c.runner.Run(ctx, c.ToolPath(), []string{enumFlag, file}, runOpts(file)...)
	out := EnumResult{Result: res}
	if !res.Succeeded {
		return out, fmt.Errorf("%w (exit %d)", ErrEnumFailed, res.ExitCode)
	}
	out.Roles = enum.ParseRoles(res.Stdout)
	if keyed && c.cache != nil {
		c.cache.Add(key, append([]string(nil), out.Roles...))
	}
	return out, nil
}

// Roles enumerates file and groups the roles under its protocol declaration.
func (c *Client) Roles(ctx context.Context, file string) ([]enum.ProtocolGroup, EnumResult, error) {
	res, err := c.Enumerate(ctx, file)
	if err != nil {
		return nil, res, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, res, fmt.Errorf("nuscr: read %s: %w", file, err)
	}
	protocol, _ := enum.ProtocolName(string(data))
	return enum.Group(res.Roles, protocol), res, nil
}

// FSM runs `nuscr --fsm=<role>@<protocol> <file>`.
func (c *Client) FSM(ctx context.Context, file, role, protocol string) (bridge.Result, string, error) {
	sel := selector.Build(role, protocol)
	res := c.runner.Run(ctx, c.ToolPath(), FSMArgs(sel, file), runOpts(file)...)
	if !res.Succeeded {
		return res, sel, fmt.Errorf("%w for %s (exit %d)", ErrFSMFailed, sel, res.ExitCode)
	}
	return res, sel, nil
}

// FSMArgs returns the argument vector for a CFSM request.
func FSMArgs(sel, file string) []string {
	return []string{fsmFlagPrefix + sel, file}
}

// runOpts runs nuscr from the document's directory so locations it reports
// are relative to the file. A relative file argument already names the file
// from the caller's working directory, so it keeps that directory.
func runOpts(file string) []bridge.Option {
	if !filepath.IsAbs(file) {
		return nil
	}
	return []bridge.Option{bridge.WithDir(filepath.Dir(file))}
}

// Purge drops every cached enumeration, e.g. after the tool path changes.
func (c *Client) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Forget drops cached enumeration results for file.
func (c *Client) Forget(file string) {
	if c.cache == nil {
		return
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return
	}
	for _, key := range c.cache.Keys() {
		if key.path == abs {
			c.cache.Remove(key)
		}
	}
}

// CFSMPath returns where the CFSM for role is written, next to file.
func CFSMPath(file, role string) string {
	name := selector.Sanitize(role)
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	return filepath.Join(filepath.Dir(file), generatedDir, cfsmSubdir, name+cfsmExtension)
}

// WriteCFSM persists dot output under .nuscr-gen/cfsm/<role>.dot.
func WriteCFSM(file, role, dot string) (string, error) {
	target := CFSMPath(file, role)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("nuscr: create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, []byte(dot), 0o644); err != nil {
		return "", fmt.Errorf("nuscr: write %s: %w", target, err)
	}
	return target, nil
}

func statKey(file string) (enumKey, bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return enumKey{}, false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return enumKey{}, false
	}
	return enumKey{path: abs, modTime: info.ModTime().UnixNano(), size: info.Size()}, true
}
