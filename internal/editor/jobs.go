package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"penman/cli/internal/historydb"
	"penman/cli/internal/jobqueue"
	"penman/cli/internal/protocol"
)

var ErrQueueBusy = errors.New("editor: a command is already running")

// Execute queues cmd. An empty directory means the directory of the current
// file and a relative one is resolved against it. Immediate commands run as
// builtins on the UI goroutine without touching the queue.
func (e *Editor) Execute(cmd jobqueue.Command) error {
	cmd.Line = strings.TrimSpace(e.expand(cmd.Line))
	if cmd.Line == "" {
		return jobqueue.ErrEmptyCommand
	}
	cmd.Input = e.expand(cmd.Input)
	cmd.Dir = e.resolveDir(cmd.Dir)

	if cmd.Subsystem == jobqueue.SubsystemImmediate {
		return e.RunBuiltin(cmd.Line)
	}
	if e.queue == nil {
		return ErrNoQueue
	}
	exe, err := e.queue.Enqueue(cmd)
	if err != nil {
		if errors.Is(err, jobqueue.ErrQueueFull) {
			e.host.Message(MessageWarning, "The command queue is full; wait for the running command to finish.")
		}
		return err
	}
	e.logger.Debug("command enqueued", "seq", exe.Seq(), "line", cmd.Line, "dir", cmd.Dir)
	return nil
}

// RunTool runs a tool configured in properties. Tools other than immediate
// ones are refused while a command is executing.
func (e *Editor) RunTool(name string) error {
	tool, ok := e.props.Tool(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	mode := jobqueue.ModeFromTool(jobqueue.ToolSpec{
		Subsystem:        tool.Subsystem,
		SaveBefore:       tool.SaveBefore,
		Filter:           tool.Filter,
		Input:            tool.Input,
		Quiet:            tool.Quiet,
		ReplaceSelection: tool.ReplaceSelection,
		GroupUndo:        tool.GroupUndo,
	})
	if mode.Subsystem != jobqueue.SubsystemImmediate && e.queue != nil && e.queue.IsExecuting() {
		e.host.Message(MessageWarning, "A command is already running.")
		return ErrQueueBusy
	}
	if err := e.saveBeforeTool(mode); err != nil {
		return err
	}
	if mode.Filter {
		// The filter rewrites the file; make the next mtime check see it.
		if doc := e.docs.CurrentDocument(); doc != nil && !doc.FileModTime.IsZero() {
			doc.FileModTime = doc.FileModTime.Add(-time.Second)
		}
	}
	return e.Execute(jobqueue.Command{
		Line:      tool.Command,
		Subsystem: mode.Subsystem,
		Input:     mode.Input,
		Flags:     mode.Flags,
	})
}

func (e *Editor) saveBeforeTool(mode jobqueue.Mode) error {
	idx := e.docs.Current()
	doc := e.docs.CurrentDocument()
	if doc == nil || !doc.Dirty || doc.Untitled() {
		return nil
	}
	switch mode.SaveBefore {
	case jobqueue.SaveBeforeNo:
		return nil
	case jobqueue.SaveBeforeAsk:
		if !e.host.Confirm(fmt.Sprintf("Save %s before running the command?", e.displayName(doc))) {
			return nil
		}
	}
	return e.Save(idx, SaveOptions{Visible: true, Sync: true})
}

// CancelCommand abandons the running command. Queued commands still run.
func (e *Editor) CancelCommand() {
	if e.queue != nil {
		e.queue.Cancel()
	}
}

func (e *Editor) resolveDir(dir string) string {
	base := ""
	if doc := e.docs.CurrentDocument(); doc != nil && !doc.Untitled() {
		base = filepath.Dir(doc.Path)
	}
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}

// expand substitutes the current file's name into a command line.
func (e *Editor) expand(s string) string {
	if !strings.Contains(s, "$(") {
		return s
	}
	path := ""
	if doc := e.docs.CurrentDocument(); doc != nil {
		path = doc.Path
	}
	ext := filepath.Ext(path)
	return strings.NewReplacer(
		"$(FilePath)", path,
		"$(FileDir)", filepath.Dir(path),
		"$(FileNameExt)", filepath.Base(path),
		"$(FileName)", strings.TrimSuffix(filepath.Base(path), ext),
		"$(FileExt)", strings.TrimPrefix(ext, "."),
	).Replace(s)
}

// commandOutput shows output drained from a running command.
func (e *Editor) commandOutput(exe *jobqueue.Execution) {
	e.beginOutput(exe)
	out := exe.TakeOutput()
	if len(out) == 0 {
		return
	}
	e.appendOutput(exe.Seq(), string(out))
}

// beginOutput runs once per command, on its first notification.
func (e *Editor) beginOutput(exe *jobqueue.Execution) {
	if exe.Seq() == e.outputSeq {
		return
	}
	e.outputSeq = exe.Seq()
	if exe.ClearOutput() {
		e.host.OutputClear()
		e.publish(protocol.OpOutputClear, map[string]any{"seq": exe.Seq()})
	}
	if !exe.Command().Flags.Has(jobqueue.FlagQuiet) {
		e.appendOutput(exe.Seq(), ">"+exe.Command().Line+"\n")
	}
}

func (e *Editor) appendOutput(seq uint64, text string) {
	e.host.OutputAppend(text)
	e.publish(protocol.OpOutputAppend, protocol.OutputAppend{Seq: seq, Text: text})
}

// commandDone reports a finished command and releases the queue.
func (e *Editor) commandDone(exe *jobqueue.Execution) {
	defer exe.Ack()
	e.commandOutput(exe)

	cmd := exe.Command()
	quiet := cmd.Flags.Has(jobqueue.FlagQuiet)
	if !quiet || exe.Cancelled() || exe.Err() != nil || exe.ExitCode() != 0 {
		e.appendOutput(exe.Seq(), exe.Report()+"\n")
	}

	done := protocol.JobDone{
		Seq:       exe.Seq(),
		Line:      cmd.Line,
		ExitCode:  exe.ExitCode(),
		Cancelled: exe.Cancelled(),
		Seconds:   exe.Elapsed().Seconds(),
	}
	run := historydb.Run{
		Line:      cmd.Line,
		Dir:       cmd.Dir,
		Subsystem: int(cmd.Subsystem),
		ExitCode:  exe.ExitCode(),
		Cancelled: exe.Cancelled(),
		Duration:  exe.Elapsed(),
		StartedAt: e.now().Add(-exe.Elapsed()),
	}
	if err := exe.Err(); err != nil {
		done.Error = err.Error()
		run.Err = err.Error()
	}
	e.publish(protocol.OpJobDone, done)
	if e.history != nil {
		if err := e.history.RecordRun(run); err != nil {
			e.logger.Warn("command run not recorded", "seq", exe.Seq(), "err", err)
		}
	}
}

// ExtensionExecutor runs extension commands as builtins on the UI goroutine
// while keeping their place in the command queue.
func (e *Editor) ExtensionExecutor() jobqueue.Executor {
	return jobqueue.ExecutorFunc(func(ctx context.Context, cmd jobqueue.Command, out io.Writer) (int, error) {
		err := e.loop.Call(ctx, func() error {
			text, err := e.runBuiltin(cmd.Line)
			if text != "" {
				_, _ = io.WriteString(out, text)
			}
			return err
		})
		switch {
		case ctx.Err() != nil:
			return -1, nil
		case err != nil:
			_, _ = io.WriteString(out, err.Error()+"\n")
			return 1, nil
		}
		return 0, nil
	})
}
