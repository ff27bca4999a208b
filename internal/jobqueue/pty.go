package jobqueue

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/creack/pty"
)

// maxCanonLine is the longest line the terminal line discipline accepts in
// canonical mode; longer lines are truncated by the kernel.
const maxCanonLine = 4095

// PTYExecutor runs the command on a pseudo terminal so that programs which
// buffer differently when not on a terminal still stream their output.
type PTYExecutor struct {
	Process ProcessExecutor
}

func (p PTYExecutor) Execute(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	if cmd.Flags.Has(FlagHasInput) && longestLine(cmd.Input) > maxCanonLine {
		return p.Process.Execute(ctx, cmd, out)
	}
	c := p.Process.command(ctx, cmd)
	ptmx, err := pty.Start(c)
	if err != nil {
		return -1, err
	}
	defer func() { _ = ptmx.Close() }()

	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		// Reads end with EIO once the child side closes, or with an error
		// once ptmx is closed.
		_, _ = io.Copy(out, ptmx)
	}()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		if !cmd.Flags.Has(FlagHasInput) {
			return
		}
		input := cmd.Input
		// ^D ends input at the start of a line; a partial line needs one
		// more to flush it first.
		if input != "" && !strings.HasSuffix(input, "\n") {
			input += "\x04"
		}
		_, _ = io.WriteString(ptmx, input+"\x04")
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- c.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		_ = ptmx.Close()
		waitErr = <-waitDone
	}

	// Background children may keep the terminal open; stop draining after
	// the wait delay.
	grace := time.NewTimer(p.Process.waitDelay())
	defer grace.Stop()
	select {
	case <-copyDone:
	case <-ctx.Done():
	case <-grace.C:
	}
	_ = ptmx.Close()
	<-copyDone
	<-inputDone
	return exitStatus(ctx, waitErr)
}

func longestLine(s string) int {
	longest := 0
	for _, line := range strings.Split(s, "\n") {
		if len(line) > longest {
			longest = len(line)
		}
	}
	return longest
}
