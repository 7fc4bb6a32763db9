//go:build !windows

package toolrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerSuccess(t *testing.T) {
	r := NewExecRunner(5*time.Second, 0)
	dir := t.TempDir()

	out, err := r.Run(context.Background(), dir, "sh", "-c", "pwd; echo hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, dir)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	r := NewExecRunner(5*time.Second, 0)

	_, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo 'Unrecoverable error' >&2; exit 3")
	require.Error(t, err)

	var toolErr *Error
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "sh", toolErr.Tool)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Contains(t, toolErr.Stderr, "Unrecoverable error")
	assert.Contains(t, err.Error(), "Unrecoverable error")
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExecRunner(time.Second, 0)

	_, err := r.Run(context.Background(), t.TempDir(), "definitely-not-a-real-tool-xyz")
	var toolErr *Error
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, -1, toolErr.ExitCode)
}

func TestExecRunnerTimeoutKillsProcess(t *testing.T) {
	r := NewExecRunner(100*time.Millisecond, 0)

	start := time.Now()
	_, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "sleep 10 & sleep 10")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestExecRunnerCallerCancellation(t *testing.T) {
	r := NewExecRunner(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, t.TempDir(), "sleep", "10")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecRunnerCapsOutput(t *testing.T) {
	r := NewExecRunner(5*time.Second, 100)

	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "head -c 5000 /dev/zero | tr '\\0' a")
	require.NoError(t, err)
	assert.Len(t, out, 100)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.truncated)

	n, err = b.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}
