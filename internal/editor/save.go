package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"penman/cli/internal/buffers"
	"penman/cli/internal/fileio"
	"penman/cli/internal/worker"
)

type SaveOptions struct {
	// Visible shows progress for a background save. Autosaves are not
	// visible.
	Visible bool
	// Sync forces the save to finish before Save returns.
	Sync bool
	// Force skips the modified-outside check.
	Force bool
}

// Save writes the document at idx. Small documents, or any document when it
// is the only one open, save inline; larger ones save on a worker goroutine
// and stay locked until the save reconciles. A save requested while the
// document is still loading is deferred until it opens.
func (e *Editor) Save(idx int, opts SaveOptions) error {
	doc, err := e.docs.At(idx)
	if err != nil {
		return err
	}
	if doc.Untitled() {
		return ErrUntitled
	}
	switch doc.State {
	case buffers.StateReading, buffers.StateReadAll:
		doc.AddPending(buffers.PendingFinishSave)
		return nil
	case buffers.StateEmpty:
		return ErrNotLoaded
	}
	if doc.HasActiveTask() {
		return ErrBusy
	}
	if e.props.Files.CheckModifiedTime && !opts.Force && e.modifiedOutside(doc) {
		e.host.Message(MessageWarning, fmt.Sprintf("%s has been modified by another program. Save anyway to overwrite it.", e.displayName(doc)))
		return ErrModifiedOutside
	}

	async := !opts.Sync &&
		int64(doc.Text.Len()) > e.props.Background.SaveSize &&
		e.docs.Len() > 1
	saver, err := fileio.OpenSave(doc.Path, doc.Text, doc.Encoding, opts.Visible, e.listenerFor(async), e.fileOptions())
	if err != nil {
		doc.MarkSaveFailed()
		e.host.Message(MessageError, fmt.Sprintf("Could not save %s: %v", doc.Path, err))
		return err
	}
	id := e.tasks.Add(saver)
	doc.BeginSave(id, opts.Visible)
	e.logger.Debug("save started", "path", doc.Path, "bytes", doc.Text.Len(), "async", async, "visible", opts.Visible)

	if async {
		worker.Start(saver)
		e.host.DocumentChanged(idx)
		return nil
	}
	worker.RunInline(saver)
	res := saver.Task().Result()
	switch res.Outcome {
	case worker.OutcomeFailed:
		return res.Err
	case worker.OutcomeCancelled:
		return worker.ErrCancelled
	}
	return nil
}

// SaveAs binds the document to path and saves it there.
func (e *Editor) SaveAs(idx int, path string, opts SaveOptions) error {
	doc, err := e.docs.At(idx)
	if err != nil {
		return err
	}
	if doc.HasActiveTask() {
		return ErrBusy
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if other := e.docs.IndexOfPath(abs); other >= 0 && other != idx {
		return ErrAlreadyOpen
	}
	old := doc.Path
	doc.Path = abs
	doc.FileModTime = time.Time{}
	doc.ChangedOnDisk = false
	e.unwatch(old)
	opts.Force = true
	return e.Save(idx, opts)
}

// SaveAll saves every dirty, named document. The first error is returned
// after all saves were attempted.
func (e *Editor) SaveAll() error {
	var first error
	for i, doc := range e.docs.Documents() {
		if !doc.Dirty || doc.Untitled() || doc.HasActiveTask() {
			continue
		}
		if err := e.Save(i, SaveOptions{Visible: true}); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// textWritten reconciles a finished save.
func (e *Editor) textWritten(s *fileio.Saver) {
	id := s.Task().ID()
	idx := e.docs.IndexOfTask(id)
	if idx < 0 {
		e.tasks.Release(id)
		return
	}
	doc, _ := e.docs.At(idx)
	doc.CompleteStoring()
	e.tasks.Release(id)

	res := s.Task().Result()
	if res.Outcome != worker.OutcomeSucceeded {
		doc.MarkSaveFailed()
		if !e.docs.Visible(idx) {
			idx = e.docs.SetVisible(idx, true)
		}
		if res.Outcome == worker.OutcomeFailed {
			e.host.Message(MessageError, fmt.Sprintf("Could not save %s: %v", doc.Path, res.Err))
		} else {
			e.host.Message(MessageWarning, fmt.Sprintf("Save of %s was cancelled; the file on disk may be incomplete.", doc.Path))
		}
		e.host.DocumentChanged(idx)
		e.reportProgress()
		return
	}

	e.logger.Debug("save finished", "path", doc.Path, "bytes", res.Bytes)
	if !e.docs.Visible(idx) {
		if err := e.docs.Remove(idx); err == nil {
			e.unwatch(doc.Path)
		}
		e.host.DocumentChanged(e.docs.Current())
		e.reportProgress()
		return
	}
	mtime := e.now()
	if info, err := os.Stat(doc.Path); err == nil {
		mtime = info.ModTime()
	}
	doc.MarkSaved(mtime)
	e.watch(doc.Path)
	e.host.DocumentChanged(idx)
	e.reportProgress()
}

func (e *Editor) modifiedOutside(doc *buffers.Document) bool {
	if doc.FileModTime.IsZero() {
		return false
	}
	info, err := os.Stat(doc.Path)
	if err != nil {
		return false
	}
	return !info.ModTime().Equal(doc.FileModTime)
}

// AutoSaveTick saves documents whose last edit is older than the autosave
// delay, current document first. Autosaves run without visible progress.
// It returns how many saves were started.
func (e *Editor) AutoSaveTick() int {
	delay := e.props.AutosaveDelay()
	if delay <= 0 || e.docs.Len() == 0 {
		return 0
	}
	now := e.now()
	order := make([]int, 0, e.docs.Len())
	cur := e.docs.Current()
	order = append(order, cur)
	for i := 0; i < e.docs.Len(); i++ {
		if i != cur {
			order = append(order, i)
		}
	}
	docs := e.docs.Documents()
	started := 0
	for _, i := range order {
		doc := docs[i]
		if !doc.NeedsSave(delay, now) {
			continue
		}
		idx := e.indexOf(doc)
		if err := e.Save(idx, SaveOptions{}); err != nil {
			e.logger.Debug("autosave skipped", "path", doc.Path, "err", err)
			continue
		}
		started++
	}
	return started
}

// AbandonAutomaticSave cancels a running autosave of the document at idx and
// waits for it. The document keeps its changes and is marked as failed since
// the file may be partially written. A document hidden by a close during the
// autosave is shown again. Editing a document that is autosaving calls this.
func (e *Editor) AbandonAutomaticSave(idx int) bool {
	doc, err := e.docs.At(idx)
	if err != nil || !doc.QuietTask() {
		return false
	}
	id, _, _ := doc.ActiveTask()
	if task, ok := e.tasks.Lookup(id); ok {
		task.Cancel()
		if task.Result().Outcome == worker.OutcomeSucceeded {
			// Finished before the cancel landed; let the normal
			// reconciliation record the save.
			return false
		}
	}
	doc.CompleteStoring()
	e.tasks.Release(id)
	doc.MarkSaveFailed()
	if !e.docs.Visible(idx) {
		idx = e.docs.SetVisible(idx, true)
	}
	e.host.DocumentChanged(idx)
	e.reportProgress()
	return true
}
