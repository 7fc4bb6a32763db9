// Package toolrun runs external command-line tools (Ghostscript, pdftocairo)
// with a deadline, bounded output capture, and whole-process-group
// cancellation.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultMaxOutput caps how much of each output stream is kept in memory.
const DefaultMaxOutput = 1 << 20

// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
const waitDelay = 5 * time.Second

// Runner abstracts command execution so pipeline stages can be tested
// without real subprocesses.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout string, err error)
}

// Error describes a failed tool invocation. Stderr holds the tool's
// diagnostic output, truncated to the runner's cap.
type Error struct {
	Tool      string
	Args      []string
	ExitCode  int
	Stderr    string
	Truncated bool
	Err       error
	ctxErr    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.ctxErr != nil {
		msg = fmt.Sprintf("%s: %v (%v)", e.Tool, e.Err, e.ctxErr)
	}
	if diag := strings.TrimSpace(e.Stderr); diag != "" {
		msg += ": " + diag
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.ctxErr != nil {
		return []error{e.Err, e.ctxErr}
	}
	return []error{e.Err}
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct {
	// Timeout applies to each invocation; zero means only the caller's context bounds it.
	Timeout time.Duration
	// MaxOutput caps each captured stream in bytes; zero means DefaultMaxOutput.
	MaxOutput int
}

// NewExecRunner returns an ExecRunner with the given per-invocation timeout and output cap.
func NewExecRunner(timeout time.Duration, maxOutput int) *ExecRunner {
	return &ExecRunner{Timeout: timeout, MaxOutput: maxOutput}
}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	if err := cmd.Run(); err != nil {
		toolErr := &Error{
			Tool:      name,
			Args:      args,
			ExitCode:  -1,
			Stderr:    stderr.String(),
			Truncated: stderr.truncated,
			Err:       err,
			ctxErr:    ctx.Err(),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return stdout.String(), toolErr
	}
	return stdout.String(), nil
}

// cappedBuffer keeps the first limit bytes written and silently drops the
// rest, so a chatty tool never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if n > 0 {
			b.truncated = true
		}
		return n, nil
	}
	if len(p) > room {
		p = p[:room]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
