package nuscr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/nuscr-editor/internal/bridge"
	"github.com/kingrea/nuscr-editor/internal/enum"
)

type call struct {
	exe  string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	results map[string]bridge.Result
}

func (f *fakeRunner) Run(_ context.Context, exe string, args []string, _ ...bridge.Option) bridge.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{exe: exe, args: append([]string(nil), args...)})
	if res, ok := f.results[args[0]]; ok {
		return res
	}
	return bridge.Result{Succeeded: true}
}

const adderSource = "global protocol Adder(role C, role S) {\n  Add(int) from C to S;\n}\n"

func writeSource(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adder.nuscr")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCheckPassesFileAsOnlyArgument(t *testing.T) {
	runner := &fakeRunner{}
	c := NewClient(func() string { return "/bin/nuscr" }, WithRunner(runner))
	res := c.Check(context.Background(), "adder.nuscr")
	assert.True(t, res.Succeeded)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/bin/nuscr", runner.calls[0].exe)
	assert.Equal(t, []string{"adder.nuscr"}, runner.calls[0].args)
	assert.Equal(t, "/bin/nuscr --enum x", c.CommandLine("--enum", "x"))
}

func TestEnumerateParsesAndCaches(t *testing.T) {
	file := writeSource(t, adderSource)
	runner := &fakeRunner{results: map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "roles:\nC\nS\n"},
	}}
	c := NewClient(nil, WithRunner(runner))

	first, err := c.Enumerate(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "S"}, first.Roles)
	assert.False(t, first.Cached)

	second, err := c.Enumerate(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, []string{"C", "S"}, second.Roles)
	assert.Len(t, runner.calls, 1)

	// touching the file invalidates the cached entry
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(file, later, later))
	_, err = c.Enumerate(context.Background(), file)
	require.NoError(t, err)
	assert.Len(t, runner.calls, 2)

	c.Forget(file)
	_, err = c.Enumerate(context.Background(), file)
	require.NoError(t, err)
	assert.Len(t, runner.calls, 3)

	c.Purge()
	_, err = c.Enumerate(context.Background(), file)
	require.NoError(t, err)
	assert.Len(t, runner.calls, 4)
}

func TestEnumerateFailure(t *testing.T) {
	file := writeSource(t, adderSource)
	runner := &fakeRunner{results: map[string]bridge.Result{
		"--enum": {Succeeded: false, Stderr: "syntax error", ExitCode: 1},
	}}
	c := NewClient(nil, WithRunner(runner))
	res, err := c.Enumerate(context.Background(), file)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEnumFailed))
	assert.Equal(t, "syntax error", res.Stderr)

	// failures are never cached
	_, _ = c.Enumerate(context.Background(), file)
	assert.Len(t, runner.calls, 2)
}

func TestRolesGroupsUnderDeclaredProtocol(t *testing.T) {
	file := writeSource(t, adderSource)
	runner := &fakeRunner{results: map[string]bridge.Result{
		"--enum": {Succeeded: true, Stdout: "C\nS\n"},
	}}
	c := NewClient(nil, WithRunner(runner), WithoutEnumCache())
	groups, _, err := c.Roles(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, []enum.ProtocolGroup{{Protocol: "Adder", Roles: []string{"C", "S"}}}, groups)
}

func TestFSMBuildsSelector(t *testing.T) {
	runner := &fakeRunner{results: map[string]bridge.Result{
		"--fsm=C@Adder": {Succeeded: true, Stdout: "digraph G {}"},
		"--fsm=C@Other": {Succeeded: false, Stderr: "unknown protocol Other", ExitCode: 1},
	}}
	c := NewClient(nil, WithRunner(runner))
	res, sel, err := c.FSM(context.Background(), "adder.nuscr", "C", "Adder")
	require.NoError(t, err)
	assert.Equal(t, "C@Adder", sel)
	assert.Equal(t, "digraph G {}", res.Stdout)
	assert.Equal(t, []string{"--fsm=C@Adder", "adder.nuscr"}, runner.calls[0].args)

	_, sel, err = c.FSM(context.Background(), "adder.nuscr", "C@Other", "Adder")
	require.Error(t, err)
	assert.Equal(t, "C@Other", sel)
	assert.ErrorIs(t, err, ErrFSMFailed)
}

func TestWriteCFSM(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "adder.nuscr")
	path, err := WriteCFSM(file, "C", "digraph C {}")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".nuscr-gen", "cfsm", "C.dot"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "digraph C {}", string(data))

	assert.Equal(t, filepath.Join(dir, ".nuscr-gen", "cfsm", "a_b.dot"), CFSMPath(file, "a/b"))
}

func TestCheckRunsFromDocumentDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture requires a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "nuscr")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\npwd\n"), 0o755))
	file := writeSource(t, adderSource)

	c := NewClient(func() string { return bin })
	res := c.Check(context.Background(), file)
	require.True(t, res.Succeeded, res.Stderr)
	want, err := filepath.EvalSymlinks(filepath.Dir(file))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
