package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/nuscr-editor/internal/config"
	"github.com/kingrea/nuscr-editor/internal/enum"
	"github.com/kingrea/nuscr-editor/internal/resolver"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

const fakeNuscr = `#!/bin/sh
case "$1" in
  --enum) printf 'roles:\nC\nS\n' ;;
  --fsm=*) printf 'digraph "%s" {}\n' "${1#--fsm=}" ;;
  *) if grep -q BROKEN "$1"; then echo "syntax error near BROKEN" >&2; exit 1; fi ;;
esac
`

const adderSource = "global protocol Adder(role C, role S) {\n  Add(int) from C to S;\n}\n"

// setupProject writes a fake nuscr and a protocol file, and points the CLI at them.
func setupProject(t *testing.T) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin", "nuscr")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte(fakeNuscr), 0o755))
	file := filepath.Join(dir, "adder.nuscr")
	require.NoError(t, os.WriteFile(file, []byte(adderSource), 0o644))
	t.Setenv(config.EnvToolPath, bin)
	t.Setenv(config.EnvCheckOnSave, "")
	t.Setenv(config.EnvCacheDir, filepath.Join(dir, "cache"))
	return dir, file
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()
	flagProject, flagOffline, flagFormat = "", false, "text"
	flagRole, flagProtocol, flagWrite = "", "", false
	errorHandled = false
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCheckCommand(t *testing.T) {
	dir, file := setupProject(t)
	stdout, _, err := execute(t, "--project", dir, "check", file)
	require.NoError(t, err)
	assert.Contains(t, stdout, "--- RUN (classical): ")
	assert.Contains(t, stdout, "Protocol is valid")

	broken := filepath.Join(dir, "broken.nuscr")
	require.NoError(t, os.WriteFile(broken, []byte("BROKEN"), 0o644))
	stdout, _, err = execute(t, "--project", dir, "check", broken)
	require.Error(t, err)
	assert.True(t, errorHandled)
	assert.Contains(t, stdout, "syntax error near BROKEN")
	assert.Contains(t, stdout, "[ERROR] nuScr: check failed (see Output).")
}

func TestRolesCommandJSON(t *testing.T) {
	dir, file := setupProject(t)
	stdout, _, err := execute(t, "--project", dir, "roles", "--format", "json", file)
	require.NoError(t, err)
	var doc rolesDocument
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, file, doc.File)
	assert.Equal(t, []protocolRoles{{Protocol: "Adder", Roles: []string{"C", "S"}}}, doc.Protocols)

	stdout, _, err = execute(t, "--project", dir, "roles", file)
	require.NoError(t, err)
	assert.Equal(t, "Adder/C\nAdder/S\n", stdout)
}

func TestRolesCommandRejectsFormat(t *testing.T) {
	dir, file := setupProject(t)
	_, _, err := execute(t, "--project", dir, "roles", "--format", "yaml", file)
	require.Error(t, err)
}

func TestFSMCommand(t *testing.T) {
	dir, file := setupProject(t)
	stdout, _, err := execute(t, "--project", dir, "fsm", "--role", "C", file)
	require.NoError(t, err)
	assert.Equal(t, "digraph \"C@Adder\" {}\n", stdout)
	_, statErr := os.Stat(filepath.Join(dir, ".nuscr-gen"))
	assert.True(t, os.IsNotExist(statErr), "plain fsm must not write files")

	stdout, _, err = execute(t, "--project", dir, "fsm", "--role", "S", "--write", file)
	require.NoError(t, err)
	assert.Equal(t, "digraph \"S@Adder\" {}\n", stdout)
	assert.FileExists(t, filepath.Join(dir, ".nuscr-gen", "cfsm", "S.dot"))
}

func TestFSMCommandPromptsForRole(t *testing.T) {
	dir, file := setupProject(t)
	stdout, stderr, err := executeWithInput(t, "2\n", "--project", dir, "fsm", file)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Roles of protocol Adder:")
	assert.Contains(t, stderr, "2) S")
	assert.Equal(t, "digraph \"S@Adder\" {}\n", stdout)
	assert.FileExists(t, filepath.Join(dir, ".nuscr-gen", "cfsm", "S.dot"))

	stdout, _, err = executeWithInput(t, "C\n", "--project", dir, "fsm", file)
	require.NoError(t, err)
	assert.Equal(t, "digraph \"C@Adder\" {}\n", stdout)
}

func TestFSMCommandPromptCancelled(t *testing.T) {
	dir, file := setupProject(t)
	stdout, _, err := executeWithInput(t, "\n", "--project", dir, "fsm", file)
	require.ErrorIs(t, err, workspace.ErrNoSelection)
	assert.False(t, errorHandled)
	assert.Empty(t, stdout)
	_, statErr := os.Stat(filepath.Join(dir, ".nuscr-gen"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFSMCommandRoleWithEmptyProtocolHalf(t *testing.T) {
	dir, file := setupProject(t)
	stdout, _, err := execute(t, "--project", dir, "fsm", "--role", "C@", file)
	require.NoError(t, err)
	assert.Equal(t, "digraph \"C@Adder\" {}\n", stdout)
}

func TestSessionDefersBinaryResolution(t *testing.T) {
	dir, _ := setupProject(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	require.NoError(t, config.InitProjectDir(dir))
	projectYAML := "version: 1\nnuscr_path: nuscr-not-installed\nrelease:\n  version: \"9.9.9\"\n  base_url: " + srv.URL + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectDirName, "config.yaml"), []byte(projectYAML), 0o644))
	t.Setenv(config.EnvToolPath, "")
	flagProject, flagOffline = dir, false
	t.Cleanup(func() { flagProject = "" })

	s, err := openSession(context.Background(), nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "nuscr-not-installed", s.ws.ToolPath())
	assert.Zero(t, hits.Load(), "opening a session must not download")

	assert.Equal(t, "nuscr-not-installed", s.tools.Path())
	if _, err := resolver.Platform(runtime.GOOS, runtime.GOARCH); err == nil {
		assert.Equal(t, int32(1), hits.Load())
	}
	assert.Contains(t, s.out.Text(), "[WARN]")

	// the failure is remembered for this configured path
	s.tools.Path()
	assert.LessOrEqual(t, hits.Load(), int32(1))
}

func TestConfigSetPathAndShow(t *testing.T) {
	dir, _ := setupProject(t)
	t.Setenv(config.EnvToolPath, "")
	stdout, _, err := execute(t, "--project", dir, "config", "set-path", "/usr/local/bin/nuscr")
	require.NoError(t, err)
	assert.Equal(t, "nuScr binary set to: /usr/local/bin/nuscr\n", stdout)

	stdout, _, err = execute(t, "--project", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "nuscr_path: /usr/local/bin/nuscr")
	assert.Contains(t, stdout, "check_on_save: true")
}

func TestToolLocatorTracksConfiguredPath(t *testing.T) {
	dir, _ := setupProject(t)
	cfg, err := config.NewConfig(dir)
	require.NoError(t, err)
	loc := &toolLocator{cfg: cfg, offline: true}
	path, err := loc.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.ToolPath(), path)
	assert.Equal(t, cfg.ToolPath(), loc.Path())
}

func TestRolesJSONCopiesGroups(t *testing.T) {
	groups := []enum.ProtocolGroup{{Protocol: "Adder", Roles: []string{"C"}}}
	doc := rolesJSON("a.nuscr", groups)
	groups[0].Roles[0] = "X"
	assert.Equal(t, "C", doc.Protocols[0].Roles[0])
}
