// Package editor is the application core. It owns the document set and
// reconciles background work on the UI goroutine: every Document mutation
// happens in a method of Editor, and Editor methods must only be called from
// the goroutine running the main loop.
package editor

import (
	"errors"
	"log/slog"
	"time"

	"penman/cli/internal/buffers"
	"penman/cli/internal/fileio"
	"penman/cli/internal/global"
	"penman/cli/internal/jobqueue"
	"penman/cli/internal/logging"
	"penman/cli/internal/mainloop"
	"penman/cli/internal/worker"
)

var (
	ErrBusy            = errors.New("editor: a task is running on this document")
	ErrNotLoaded       = errors.New("editor: document is not fully loaded")
	ErrUntitled        = errors.New("editor: document has no file name")
	ErrModifiedOutside = errors.New("editor: file was modified by another program")
	ErrUnsaved         = errors.New("editor: document has unsaved changes")
	ErrReadOnly        = errors.New("editor: document is read-only")
	ErrAlreadyOpen     = errors.New("editor: file is already open")
	ErrNoDocument      = errors.New("editor: no document")
	ErrNoQueue         = errors.New("editor: command queue not configured")
	ErrUnknownTool     = errors.New("editor: unknown tool")
)

type Options struct {
	Props   global.Properties
	Host    Host
	Loop    *mainloop.Loop
	Queue   *jobqueue.Queue
	History History
	Watcher Watcher
	Mirror  Publisher
	Logger  *slog.Logger
	Now     func() time.Time
}

type Editor struct {
	props   global.Properties
	host    Host
	loop    *mainloop.Loop
	queue   *jobqueue.Queue
	history History
	watcher Watcher
	mirror  Publisher
	logger  *slog.Logger
	now     func() time.Time

	docs  *buffers.Set
	tasks *worker.Registry

	// outputSeq is the last command whose output header has been shown.
	outputSeq uint64
	builtins  map[string]builtin
}

// New builds an editor and installs it as the loop's handler.
func New(opts Options) *Editor {
	e := &Editor{
		props:   opts.Props,
		host:    opts.Host,
		loop:    opts.Loop,
		queue:   opts.Queue,
		history: opts.History,
		watcher: opts.Watcher,
		mirror:  opts.Mirror,
		logger:  logging.OrDiscard(opts.Logger),
		now:     opts.Now,
		docs:    buffers.NewSet(),
		tasks:   worker.NewRegistry(),
	}
	if e.host == nil {
		e.host = NopHost{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.loop == nil {
		e.loop = mainloop.New(e.logger)
	}
	e.loop.SetHandler(e)
	e.builtins = e.defaultBuiltins()
	return e
}

func (e *Editor) Props() global.Properties { return e.props }

func (e *Editor) Documents() *buffers.Set { return e.docs }

// Tasks exposes the registry of live loads and saves.
func (e *Editor) Tasks() *worker.Registry { return e.tasks }

func (e *Editor) Current() int { return e.docs.Current() }

func (e *Editor) Document(idx int) (*buffers.Document, error) {
	return e.docs.At(idx)
}

func (e *Editor) Activities() buffers.Activities {
	return e.docs.Activities(e.tasks)
}

func (e *Editor) SavingInBackground() bool {
	return e.docs.SavingInBackground(e.tasks)
}

// listenerFor picks the loop for background work and a direct call for work
// run inline on the UI goroutine.
func (e *Editor) listenerFor(async bool) worker.Listener {
	if async {
		return e.loop
	}
	return worker.ListenerFunc(e.WorkerCommand)
}

func (e *Editor) fileOptions() fileio.Options {
	return fileio.Options{
		BlockSize:        e.props.Background.BlockSize,
		ProgressInterval: e.props.ProgressInterval(),
		Sleep:            e.props.BlockSleep(),
		SniffUTF8:        e.props.Files.SniffUTF8,
		Logger:           e.logger,
	}
}

func (e *Editor) indexOf(doc *buffers.Document) int {
	for i, d := range e.docs.Documents() {
		if d == doc {
			return i
		}
	}
	return -1
}

func (e *Editor) publish(op string, v any) {
	if e.mirror != nil {
		e.mirror.Publish(op, v)
	}
}
