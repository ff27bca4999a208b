// Package jobqueue runs external commands one at a time, in order, on a
// dedicated goroutine and streams their output to the UI.
package jobqueue

import (
	"errors"
	"strings"
)

var (
	ErrQueueFull    = errors.New("jobqueue: queue is full")
	ErrEmptyCommand = errors.New("jobqueue: empty command line")
	ErrNoExecutor   = errors.New("jobqueue: no executor for subsystem")
)

// Subsystem says how a command is dispatched. The queue treats it as an
// opaque tag used only to pick an Executor.
type Subsystem int

const (
	SubsystemCLI Subsystem = iota
	SubsystemGUI
	SubsystemShell
	SubsystemExtension
	SubsystemHelp
	SubsystemOtherHelp
	SubsystemGrep
	SubsystemImmediate
)

var subsystemNames = [...]string{"cli", "gui", "shell", "extension", "help", "otherhelp", "grep", "immediate"}

func (s Subsystem) String() string {
	if s < 0 || int(s) >= len(subsystemNames) {
		return "cli"
	}
	return subsystemNames[s]
}

// SubsystemFromChar maps the configuration digit '0'..'7' to a subsystem.
// Anything else is CLI.
func SubsystemFromChar(c byte) Subsystem {
	if c >= '0' && c <= '7' {
		return Subsystem(c - '0')
	}
	return SubsystemCLI
}

// ParseSubsystem accepts either the digit form or the name.
func ParseSubsystem(s string) Subsystem {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SubsystemCLI
	}
	for i, name := range subsystemNames {
		if s == name {
			return Subsystem(i)
		}
	}
	return SubsystemFromChar(s[0])
}

type Flags int

const (
	FlagForceQueue Flags = 1
	FlagHasInput   Flags = 2
	FlagQuiet      Flags = 4
	FlagRepSelYes  Flags = 16
	FlagRepSelAuto Flags = 32
	FlagRepSelMask Flags = 48
	FlagGroupUndo  Flags = 64
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Command describes one queued external command.
type Command struct {
	Line      string
	Dir       string
	Subsystem Subsystem
	Input     string
	Flags     Flags
}

// SaveBefore controls what happens to the current document before a tool
// runs.
type SaveBefore int

const (
	SaveBeforeAsk SaveBefore = iota
	SaveBeforeYes
	SaveBeforeNo
)

// Mode is the dispatch description of a configured tool.
type Mode struct {
	Subsystem  Subsystem
	SaveBefore SaveBefore
	Filter     bool
	Flags      Flags
	Input      string
}

// ToolSpec is the raw configuration of a tool, as read from properties.
type ToolSpec struct {
	Subsystem        string
	SaveBefore       int
	Filter           bool
	Input            string
	Quiet            bool
	ReplaceSelection string
	GroupUndo        bool
}

// ModeFromTool derives a Mode from a tool's configuration.
func ModeFromTool(t ToolSpec) Mode {
	m := Mode{
		Subsystem:  ParseSubsystem(t.Subsystem),
		SaveBefore: SaveBefore(t.SaveBefore),
		Filter:     t.Filter,
		Input:      t.Input,
	}
	if m.SaveBefore < SaveBeforeAsk || m.SaveBefore > SaveBeforeNo {
		m.SaveBefore = SaveBeforeAsk
	}
	if t.Input != "" {
		m.Flags |= FlagHasInput
	}
	if t.Quiet {
		m.Flags |= FlagQuiet
	}
	switch strings.ToLower(strings.TrimSpace(t.ReplaceSelection)) {
	case "1", "yes":
		m.Flags |= FlagRepSelYes
	case "2", "auto":
		m.Flags |= FlagRepSelAuto
	}
	if t.GroupUndo {
		m.Flags |= FlagGroupUndo
	}
	return m
}
