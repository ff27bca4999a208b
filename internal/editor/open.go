package editor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"penman/cli/internal/buffers"
	"penman/cli/internal/fileio"
	"penman/cli/internal/worker"
)

// NewDocument adds an untitled document and selects it.
func (e *Editor) NewDocument() int {
	idx := e.docs.Add(buffers.NewUntitled())
	e.host.DocumentChanged(idx)
	return idx
}

// Open selects path if it is already open, otherwise registers a document
// and loads it. Files above background.open_size load on a worker goroutine
// and the document stays locked until the load reconciles. A path that does
// not exist yet opens as an empty document bound to that name.
func (e *Editor) Open(path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return -1, err
	}
	if idx := e.docs.IndexOfPath(abs); idx >= 0 {
		return idx, e.Select(idx)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		doc := buffers.NewUntitled()
		doc.Path = abs
		idx := e.docs.Add(doc)
		e.host.DocumentChanged(idx)
		return idx, nil
	}
	if err != nil {
		e.host.Message(MessageError, fmt.Sprintf("Could not open %s: %v", abs, err))
		return -1, err
	}

	async := info.Size() > e.props.Background.OpenSize
	loader, err := fileio.OpenLoad(abs, e.listenerFor(async), e.fileOptions())
	if err != nil {
		e.host.Message(MessageError, fmt.Sprintf("Could not open %s: %v", abs, err))
		return -1, err
	}
	doc := buffers.NewDocument(abs)
	doc.ReadOnly = e.props.Files.ReadOnly
	idx := e.docs.Add(doc)
	id := e.tasks.Add(loader)
	doc.BeginLoad(id)
	e.logger.Debug("load started", "path", abs, "bytes", info.Size(), "async", async)

	if async {
		worker.Start(loader)
		e.host.DocumentChanged(idx)
		return idx, nil
	}
	worker.RunInline(loader)
	if res := loader.Task().Result(); res.Outcome == worker.OutcomeFailed {
		return -1, res.Err
	}
	return e.indexOf(doc), nil
}

// textRead reconciles a finished load.
func (e *Editor) textRead(l *fileio.Loader) {
	id := l.Task().ID()
	idx := e.docs.IndexOfTask(id)
	if idx < 0 {
		// Closed while loading; the document already released the task.
		e.tasks.Release(id)
		return
	}
	doc, _ := e.docs.At(idx)
	res := l.Task().Result()
	switch res.Outcome {
	case worker.OutcomeSucceeded:
	case worker.OutcomeCancelled:
		doc.AbandonLoad()
		doc.TakePending(buffers.PendingFinishSave)
		e.tasks.Release(id)
		e.host.DocumentChanged(idx)
		return
	default:
		doc.AbandonLoad()
		doc.TakePending(buffers.PendingFinishSave)
		e.tasks.Release(id)
		_ = e.docs.Remove(idx)
		e.host.Message(MessageError, fmt.Sprintf("Could not read %s: %v", doc.Path, res.Err))
		e.host.DocumentChanged(e.docs.Current())
		return
	}

	doc.Text = l.Text()
	doc.Encoding = l.Encoding()
	doc.SetTimeFromFile(l.ModTime())
	doc.MarkReadAll()
	e.logger.Debug("load finished", "path", doc.Path, "bytes", res.Bytes, "encoding", doc.Encoding.String())
	if idx == e.docs.Current() {
		e.completeOpen(idx)
	}
}

// completeOpen moves a fully read document to Open. It runs when the
// document is current, so background loads of other tabs finish when they
// are first shown.
func (e *Editor) completeOpen(idx int) {
	doc, err := e.docs.At(idx)
	if err != nil || doc.State != buffers.StateReadAll {
		return
	}
	if id := doc.CompleteLoading(); id != "" {
		e.tasks.Release(id)
	}
	e.recordRecent(doc)
	e.watch(doc.Path)
	e.host.DocumentChanged(idx)

	if doc.TakePending(buffers.PendingFinishSave) {
		if err := e.Save(idx, SaveOptions{Visible: true}); err != nil {
			e.logger.Debug("deferred save not started", "path", doc.Path, "err", err)
		}
	}
}

// Select makes idx current and commits it to the MRU stack.
func (e *Editor) Select(idx int) error {
	if err := e.docs.Select(idx, true); err != nil {
		return err
	}
	e.afterSelect(idx)
	return nil
}

// Next steps through the MRU stack without committing, for ctrl-tab style
// cycling. CommitCycle ends the cycle.
func (e *Editor) Next() int {
	return e.cycle(e.docs.StackNext())
}

func (e *Editor) Prev() int {
	return e.cycle(e.docs.StackPrev())
}

func (e *Editor) CommitCycle() {
	e.docs.CommitStackSelection()
}

func (e *Editor) cycle(idx int) int {
	if idx < 0 {
		return -1
	}
	_ = e.docs.Select(idx, false)
	e.afterSelect(idx)
	return idx
}

func (e *Editor) afterSelect(idx int) {
	doc, err := e.docs.At(idx)
	if err != nil {
		return
	}
	if doc.State == buffers.StateReadAll {
		e.completeOpen(idx)
		return
	}
	e.host.DocumentChanged(idx)
}

// Close removes the document at idx. A running load is cancelled and waited
// for. A running save hides the document instead; it is removed once the
// save reconciles. Unsaved changes need force or the host's confirmation.
func (e *Editor) Close(idx int, force bool) error {
	doc, err := e.docs.At(idx)
	if err != nil {
		return err
	}
	if id, kind, ok := doc.ActiveTask(); ok {
		switch kind {
		case buffers.TaskLoad:
			if task, found := e.tasks.Lookup(id); found {
				task.Cancel()
			}
			doc.AbandonLoad()
			doc.TakePending(buffers.PendingFinishSave)
			e.tasks.Release(id)
		case buffers.TaskSave:
			e.docs.SetVisible(idx, false)
			e.host.DocumentChanged(e.docs.Current())
			return nil
		}
	}

	if doc.Dirty && doc.State == buffers.StateOpen && !force {
		question := fmt.Sprintf("Discard changes to %s?", e.displayName(doc))
		if doc.FailedSave {
			question = fmt.Sprintf("The last save of %s failed. Discard changes?", e.displayName(doc))
		}
		if !e.host.Confirm(question) {
			return ErrUnsaved
		}
	}

	if err := e.docs.Remove(idx); err != nil {
		return err
	}
	e.unwatch(doc.Path)
	e.host.DocumentChanged(e.docs.Current())
	return nil
}

func (e *Editor) displayName(doc *buffers.Document) string {
	if doc.Untitled() {
		return "Untitled"
	}
	return filepath.Base(doc.Path)
}

func (e *Editor) recordRecent(doc *buffers.Document) {
	if e.history == nil || doc.Untitled() {
		return
	}
	if err := e.history.Upsert(doc.Path, doc.Encoding.String()); err != nil {
		e.logger.Warn("recent file not recorded", "path", doc.Path, "err", err)
		return
	}
	if err := e.history.Trim(e.props.Files.RecentLimit); err != nil {
		e.logger.Warn("recent files not trimmed", "err", err)
	}
}

func (e *Editor) watch(path string) {
	if e.watcher == nil || path == "" || !e.props.Files.WatchExternal {
		return
	}
	if err := e.watcher.Add(path); err != nil {
		e.logger.Debug("watch failed", "path", path, "err", err)
	}
}

func (e *Editor) unwatch(path string) {
	if e.watcher == nil || path == "" {
		return
	}
	if e.docs.IndexOfPath(path) >= 0 {
		return
	}
	e.watcher.Remove(path)
}
