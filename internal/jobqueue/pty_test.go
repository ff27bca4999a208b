package jobqueue

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// lockedBuffer is written by the PTY reader goroutine while the test polls.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func shExecutor(t *testing.T) ProcessExecutor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	return ProcessExecutor{Shell: "/bin/sh", ShellFlag: "-c", WaitDelay: 500 * time.Millisecond}
}

func TestPTYExecutor_StreamsOutput(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	out := &lockedBuffer{}
	code, err := ex.Execute(context.Background(), Command{Line: "echo hello; exit 3"}, out)
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Contains(t, out.String(), "hello")
}

func TestPTYExecutor_DeliversInput(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	out := &lockedBuffer{}
	code, err := ex.Execute(context.Background(), Command{Line: "cat", Flags: FlagHasInput, Input: "hello\n"}, out)
	require.NoError(t, err)
	require.Zero(t, code)
	require.Contains(t, out.String(), "hello")
}

func TestPTYExecutor_DeliversLargeInput(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	line := strings.Repeat("x", 79) + "\n"
	input := strings.Repeat(line, 2048) + "last line\n"
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	code, err := ex.Execute(ctx, Command{Line: "cat", Flags: FlagHasInput, Input: input}, out)
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "cat must finish before the deadline")
	require.Zero(t, code)
	require.Contains(t, out.String(), "last line")
}

func TestPTYExecutor_LongLinesUsePipes(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	input := strings.Repeat("y", 3*maxCanonLine) + "\n"
	out := &lockedBuffer{}
	code, err := ex.Execute(context.Background(), Command{Line: "wc -c", Flags: FlagHasInput, Input: input}, out)
	require.NoError(t, err)
	require.Zero(t, code)
	require.Equal(t, "12286", strings.TrimSpace(out.String()))
}

func TestPTYExecutor_CancelStopsCommand(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	code, err := ex.Execute(ctx, Command{Line: "sleep 30"}, &lockedBuffer{})
	require.NoError(t, err)
	require.Equal(t, -1, code)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestPTYExecutor_CancelUnblocksPendingInput(t *testing.T) {
	ex := PTYExecutor{Process: shExecutor(t)}
	input := strings.Repeat(strings.Repeat("z", 79)+"\n", 8192)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := ex.Execute(ctx, Command{Line: "sleep 30", Flags: FlagHasInput, Input: input}, &lockedBuffer{})
	require.NoError(t, err)
	require.Equal(t, -1, code)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestDetachedExecutor_ReturnsWithoutWaiting(t *testing.T) {
	ex := DetachedExecutor{Process: shExecutor(t)}
	start := time.Now()
	code, err := ex.Execute(context.Background(), Command{Line: "sleep 2; exit 3"}, &lockedBuffer{})
	require.NoError(t, err)
	require.Zero(t, code)
	require.Less(t, time.Since(start), time.Second)
}

func TestDetachedExecutor_ReportsStartFailure(t *testing.T) {
	ex := DetachedExecutor{Process: ProcessExecutor{Shell: "/nonexistent/shell", ShellFlag: "-c"}}
	code, err := ex.Execute(context.Background(), Command{Line: "true"}, &lockedBuffer{})
	require.Error(t, err)
	require.Equal(t, -1, code)
}
