package jobqueue

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Executor runs one command to completion, streaming output to out. A
// non-zero exit status is returned as code, not as an error; err is reserved
// for commands that could not run. Executors must return promptly once ctx
// is cancelled.
type Executor interface {
	Execute(ctx context.Context, cmd Command, out io.Writer) (code int, err error)
}

type ExecutorFunc func(ctx context.Context, cmd Command, out io.Writer) (int, error)

func (f ExecutorFunc) Execute(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	return f(ctx, cmd, out)
}

// DefaultShell returns the shell and its command flag for this platform.
func DefaultShell() (string, string) {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec, "/C"
		}
		return "cmd.exe", "/C"
	}
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return sh, "-c"
	}
	return "/bin/sh", "-c"
}

// ProcessExecutor runs the command line through a shell, merging stderr
// into stdout.
type ProcessExecutor struct {
	Shell     string
	ShellFlag string
	Env       []string
	// WaitDelay bounds how long output pipes are drained after the process
	// has been killed.
	WaitDelay time.Duration
}

func (p ProcessExecutor) command(ctx context.Context, cmd Command) *exec.Cmd {
	shell, flag := p.Shell, p.ShellFlag
	if shell == "" {
		shell, flag = DefaultShell()
	}
	c := exec.CommandContext(ctx, shell, flag, cmd.Line)
	c.Dir = cmd.Dir
	if len(p.Env) > 0 {
		c.Env = append(os.Environ(), p.Env...)
	}
	c.WaitDelay = p.waitDelay()
	return c
}

func (p ProcessExecutor) waitDelay() time.Duration {
	if p.WaitDelay <= 0 {
		return 2 * time.Second
	}
	return p.WaitDelay
}

func (p ProcessExecutor) Execute(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	c := p.command(ctx, cmd)
	c.Stdout = out
	c.Stderr = out
	if cmd.Flags.Has(FlagHasInput) {
		c.Stdin = strings.NewReader(cmd.Input)
	}
	return exitStatus(ctx, c.Run())
}

func exitStatus(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// DetachedExecutor starts the command and returns without waiting, for GUI
// programs that outlive the queue.
type DetachedExecutor struct {
	Process ProcessExecutor
}

func (d DetachedExecutor) Execute(_ context.Context, cmd Command, _ io.Writer) (int, error) {
	c := d.Process.command(context.Background(), cmd)
	if err := c.Start(); err != nil {
		return -1, err
	}
	go func() { _ = c.Wait() }()
	return 0, nil
}
