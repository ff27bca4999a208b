// Package buffers holds open documents and the most-recently-used ordering
// used to switch between them.
package buffers

import (
	"time"

	"penman/cli/internal/textbuf"
	"penman/cli/internal/textenc"
	"penman/cli/internal/worker"
)

type LifeState int

const (
	StateEmpty LifeState = iota
	StateReading
	StateReadAll
	StateOpen
)

func (s LifeState) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateReadAll:
		return "read_all"
	case StateOpen:
		return "open"
	default:
		return "empty"
	}
}

// Pending is a bitmask of actions deferred until the active task reconciles.
type Pending int

const (
	PendingNone       Pending = 0
	PendingFinishSave Pending = 1
)

type TaskKind int

const (
	TaskNone TaskKind = iota
	TaskLoad
	TaskSave
)

func (k TaskKind) String() string {
	switch k {
	case TaskLoad:
		return "load"
	case TaskSave:
		return "save"
	default:
		return "none"
	}
}

type Document struct {
	Path     string
	Text     *textbuf.Memory
	Encoding textenc.Encoding

	State      LifeState
	Dirty      bool
	ReadOnly   bool
	FailedSave bool
	Pending    Pending

	// ChangedOnDisk is set when the file was modified by another program
	// after it was loaded or saved.
	ChangedOnDisk bool

	FileModTime     time.Time
	DocumentModTime time.Time

	task      worker.ID
	taskKind  TaskKind
	taskQuiet bool
}

func NewDocument(path string) *Document {
	return &Document{Path: path, Text: textbuf.NewMemory(0), Encoding: textenc.Encoding8Bit}
}

// NewUntitled returns an empty document that is already open for editing.
func NewUntitled() *Document {
	d := NewDocument("")
	d.State = StateOpen
	return d
}

func (d *Document) Untitled() bool { return d.Path == "" }

func (d *Document) ActiveTask() (worker.ID, TaskKind, bool) {
	if d.taskKind == TaskNone {
		return "", TaskNone, false
	}
	return d.task, d.taskKind, true
}

func (d *Document) HasActiveTask() bool { return d.taskKind != TaskNone }

// AttachTask records id as the document's one active task. Attaching a
// second task panics.
func (d *Document) AttachTask(id worker.ID, kind TaskKind) {
	if d.taskKind != TaskNone {
		panic("buffers: document already has an active task")
	}
	if kind == TaskNone || id == "" {
		panic("buffers: invalid task")
	}
	d.task = id
	d.taskKind = kind
}

// DetachTask clears the active task and returns its ID.
func (d *Document) DetachTask() worker.ID {
	id := d.task
	d.task = ""
	d.taskKind = TaskNone
	d.taskQuiet = false
	return id
}

func (d *Document) BeginLoad(id worker.ID) {
	d.AttachTask(id, TaskLoad)
	d.State = StateReading
}

// MarkReadAll records that the load task has produced all the text.
func (d *Document) MarkReadAll() {
	if d.State == StateReading {
		d.State = StateReadAll
	}
}

// CompleteLoading moves a fully read document to Open and releases the load
// task. It returns the released task ID, if any.
func (d *Document) CompleteLoading() worker.ID {
	d.State = StateOpen
	if d.taskKind == TaskLoad {
		return d.DetachTask()
	}
	return ""
}

// AbandonLoad returns a document whose load failed or was cancelled to Empty.
func (d *Document) AbandonLoad() worker.ID {
	d.State = StateEmpty
	if d.taskKind == TaskLoad {
		return d.DetachTask()
	}
	return ""
}

// BeginSave attaches a save task. A save without visible progress is quiet
// and is left out of progress summaries.
func (d *Document) BeginSave(id worker.ID, visibleProgress bool) {
	d.AttachTask(id, TaskSave)
	d.taskQuiet = !visibleProgress
}

// CompleteStoring releases the save task. It returns the released ID, if any.
func (d *Document) CompleteStoring() worker.ID {
	if d.taskKind == TaskSave {
		return d.DetachTask()
	}
	return ""
}

func (d *Document) SetTimeFromFile(t time.Time) {
	d.FileModTime = t
	d.DocumentModTime = t
}

// MarkSaved records a fully completed save.
func (d *Document) MarkSaved(fileTime time.Time) {
	d.Dirty = false
	d.FailedSave = false
	d.ChangedOnDisk = false
	d.SetTimeFromFile(fileTime)
}

func (d *Document) MarkSaveFailed() {
	d.FailedSave = true
}

// Modified records an edit at now.
func (d *Document) Modified(now time.Time) {
	d.Dirty = true
	d.DocumentModTime = now
}

// Editable reports whether edits are currently allowed. Text is locked while
// any task is attached.
func (d *Document) Editable() bool {
	return !d.ReadOnly && d.State == StateOpen && d.taskKind == TaskNone
}

// ShouldNotSave reports whether a save must be refused because the text is
// incomplete.
func (d *Document) ShouldNotSave() bool {
	return d.State != StateOpen
}

// NeedsSave reports whether an automatic save is due: the document is dirty,
// nothing is running on it, the last save did not fail and the last edit is
// at least delay old.
func (d *Document) NeedsSave(delay time.Duration, now time.Time) bool {
	return d.Dirty &&
		!d.Untitled() &&
		d.taskKind == TaskNone &&
		!d.FailedSave &&
		d.State == StateOpen &&
		now.Sub(d.DocumentModTime) >= delay
}

func (d *Document) AddPending(p Pending) { d.Pending |= p }

func (d *Document) HasPending(p Pending) bool { return d.Pending&p != 0 }

// TakePending clears p and reports whether it was set.
func (d *Document) TakePending(p Pending) bool {
	had := d.Pending&p != 0
	d.Pending &^= p
	return had
}

// QuietTask reports whether the active task is a save without visible
// progress, as started by autosave.
func (d *Document) QuietTask() bool {
	return d.taskKind == TaskSave && d.taskQuiet
}
