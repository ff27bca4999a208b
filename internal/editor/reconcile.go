package editor

import (
	"context"
	"fmt"
	"os"

	"penman/cli/internal/buffers"
	"penman/cli/internal/fileio"
	"penman/cli/internal/jobqueue"
	"penman/cli/internal/protocol"
	"penman/cli/internal/worker"
)

// WorkerCommand implements mainloop.Handler. It is the only place where the
// results of background work reach document state.
func (e *Editor) WorkerCommand(reason worker.Reason, job worker.Job) {
	switch reason {
	case worker.ReasonDataRead:
		if l, ok := job.(*fileio.Loader); ok {
			e.textRead(l)
		}
	case worker.ReasonDataWritten:
		if s, ok := job.(*fileio.Saver); ok {
			e.textWritten(s)
		}
	case worker.ReasonProgress:
		e.reportProgress()
	case worker.ReasonCommandOutput:
		if exe, ok := job.(*jobqueue.Execution); ok {
			e.commandOutput(exe)
		}
	case worker.ReasonCommandDone:
		if exe, ok := job.(*jobqueue.Execution); ok {
			e.commandDone(exe)
		}
	default:
		e.logger.Warn("unknown worker notification", "reason", reason.String())
	}
}

func (e *Editor) reportProgress() {
	act := e.Activities()
	e.host.Progress(act)
	e.publish(protocol.OpTaskProgress, protocol.TaskProgress{
		Loading:  act.Loading,
		Saving:   act.Saving,
		Quiet:    act.Quiet,
		Progress: act.Progress,
		Total:    act.Total,
		Files:    act.FileNames,
	})
}

// WatchCallback returns a function safe to call from any goroutine that
// forwards external file changes to the UI goroutine.
func (e *Editor) WatchCallback() func(path string) {
	return func(path string) {
		e.loop.Do(func() { e.FileChangedOnDisk(path) })
	}
}

// FileChangedOnDisk flags the document for path when the file's mtime no
// longer matches what was last loaded or saved.
func (e *Editor) FileChangedOnDisk(path string) {
	idx := e.docs.IndexOfPath(path)
	if idx < 0 {
		return
	}
	doc, _ := e.docs.At(idx)
	if doc.HasActiveTask() || doc.State != buffers.StateOpen || doc.ChangedOnDisk {
		return
	}
	info, err := os.Stat(doc.Path)
	if err == nil && info.ModTime().Equal(doc.FileModTime) {
		return
	}
	doc.ChangedOnDisk = true
	if err != nil {
		e.host.Message(MessageWarning, fmt.Sprintf("%s was removed by another program.", e.displayName(doc)))
	} else {
		e.host.Message(MessageWarning, fmt.Sprintf("%s was modified by another program.", e.displayName(doc)))
	}
	e.host.DocumentChanged(idx)
}

// AppendText adds text to the end of the document at idx.
func (e *Editor) AppendText(idx int, text string) error {
	doc, idx, err := e.editable(idx)
	if err != nil {
		return err
	}
	if err := doc.Text.Append([]byte(text)); err != nil {
		return err
	}
	doc.Modified(e.now())
	e.host.DocumentChanged(idx)
	return nil
}

// SetText replaces the whole text of the document at idx.
func (e *Editor) SetText(idx int, text string) error {
	doc, idx, err := e.editable(idx)
	if err != nil {
		return err
	}
	doc.Text.SetBytes([]byte(text))
	doc.Modified(e.now())
	e.host.DocumentChanged(idx)
	return nil
}

// editable returns the document at idx if it may be changed now, with its
// index. An edit abandons a running autosave, which may move the document.
func (e *Editor) editable(idx int) (*buffers.Document, int, error) {
	doc, err := e.docs.At(idx)
	if err != nil {
		return nil, -1, err
	}
	if doc.QuietTask() && e.AbandonAutomaticSave(idx) {
		idx = e.indexOf(doc)
	}
	switch {
	case doc.HasActiveTask():
		return nil, -1, ErrBusy
	case doc.State != buffers.StateOpen:
		return nil, -1, ErrNotLoaded
	case !doc.Editable():
		return nil, -1, ErrReadOnly
	}
	return doc, idx, nil
}

// Shutdown cancels every load and save and waits for them. Call it after
// the main loop has stopped.
func (e *Editor) Shutdown(ctx context.Context) error {
	active := e.tasks.Active()
	if len(active) > 0 {
		e.logger.Info("cancelling background tasks", "count", len(active))
	}
	done := make(chan struct{})
	go func() {
		e.tasks.CancelAll()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
