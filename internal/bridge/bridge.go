// Package bridge runs the external verification binary and captures its
// output. Invocations never fail from the caller's point of view: every
// outcome, including a binary that cannot be started, resolves to a Result.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

const (
	// DefaultMaxOutputBytes caps each captured stream. CFSM dumps for large
	// protocols run to several megabytes.
	DefaultMaxOutputBytes = 50_000_000
	// SpawnFailureCode is reported when the process could not be started.
	SpawnFailureCode = 127
)

// Result is the outcome of one invocation.
type Result struct {
	Succeeded bool
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Err       error
}

// Runner abstracts process execution so callers can substitute fakes.
type Runner interface {
	Run(ctx context.Context, executable string, args []string, opts ...Option) Result
}

// Option customizes a single invocation.
type Option func(*invocation)

type invocation struct {
	maxBytes int
	dir      string
}

// WithMaxOutputBytes overrides the per-stream capture ceiling.
func WithMaxOutputBytes(n int) Option {
	return func(inv *invocation) {
		if n > 0 {
			inv.maxBytes = n
		}
	}
}

// WithDir runs the child in dir.
func WithDir(dir string) Option {
	return func(inv *invocation) {
		inv.dir = strings.TrimSpace(dir)
	}
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, executable string, args []string, opts ...Option) Result {
	return Invoke(ctx, executable, args, opts...)
}

// Invoke spawns executable with args and waits for it to exit.
func Invoke(ctx context.Context, executable string, args []string, opts ...Option) (res Result) {
	inv := invocation{maxBytes: DefaultMaxOutputBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(&inv)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			res = spawnFailure(errors.New("bridge: invoke panicked"))
		}
	}()

	if strings.TrimSpace(executable) == "" {
		return spawnFailure(errors.New("bridge: executable path is empty"))
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	stdout := &cappedBuffer{limit: inv.maxBytes}
	stderr := &cappedBuffer{limit: inv.maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if inv.dir != "" {
		cmd.Dir = inv.dir
	}

	err := cmd.Run()
	res = Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if err == nil {
		res.Succeeded = true
		return res
	}
	res.Err = err

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the child was killed by a signal
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	failed := spawnFailure(err)
	failed.Stdout = res.Stdout
	if res.Stderr != "" {
		failed.Stderr = res.Stderr + "\n" + failed.Stderr
	}
	return failed
}

func spawnFailure(err error) Result {
	return Result{
		Succeeded: false,
		Stderr:    err.Error(),
		ExitCode:  SpawnFailureCode,
		Err:       err,
	}
}

// cappedBuffer keeps the first limit bytes written and silently discards the
// rest so a runaway child cannot exhaust memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
