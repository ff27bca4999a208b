package editor

import (
	"penman/cli/internal/buffers"
	"penman/cli/internal/historydb"
)

type MessageKind int

const (
	MessageInfo MessageKind = iota
	MessageWarning
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageWarning:
		return "warning"
	case MessageError:
		return "error"
	default:
		return "info"
	}
}

// Host is the user-facing side of the editor. All methods are called on the
// UI goroutine.
type Host interface {
	Message(kind MessageKind, text string)
	Progress(act buffers.Activities)
	OutputClear()
	OutputAppend(text string)
	DocumentChanged(idx int)
	// Confirm asks a yes/no question. Hosts without a user answer false.
	Confirm(question string) bool
}

// NopHost ignores everything and declines every question.
type NopHost struct{}

func (NopHost) Message(MessageKind, string) {}
func (NopHost) Progress(buffers.Activities) {}
func (NopHost) OutputClear() {}
func (NopHost) OutputAppend(string) {}
func (NopHost) DocumentChanged(int) {}
func (NopHost) Confirm(string) bool { return false }

type History interface {
	Upsert(path, encoding string) error
	Trim(keep int) error
	RecordRun(run historydb.Run) error
}

type Watcher interface {
	Add(path string) error
	Remove(path string)
}

type Publisher interface {
	Publish(op string, v any)
}
