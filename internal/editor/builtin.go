package editor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"penman/cli/internal/jobqueue"
)

var ErrUnknownBuiltin = errors.New("editor: unknown command")

type builtin func(args string) (string, error)

func (e *Editor) defaultBuiltins() map[string]builtin {
	return map[string]builtin{
		"new": func(string) (string, error) {
			e.NewDocument()
			return "", nil
		},
		"open": func(args string) (string, error) {
			if args == "" {
				return "", errors.New("open: file name required")
			}
			_, err := e.Open(args)
			return "", err
		},
		"save": func(args string) (string, error) {
			idx, err := e.currentIndex()
			if err != nil {
				return "", err
			}
			if args != "" {
				return "", e.SaveAs(idx, args, SaveOptions{Visible: true})
			}
			return "", e.Save(idx, SaveOptions{Visible: true})
		},
		"save!": func(string) (string, error) {
			idx, err := e.currentIndex()
			if err != nil {
				return "", err
			}
			return "", e.Save(idx, SaveOptions{Visible: true, Force: true})
		},
		"saveall": func(string) (string, error) {
			return "", e.SaveAll()
		},
		"close": func(string) (string, error) {
			idx, err := e.currentIndex()
			if err != nil {
				return "", err
			}
			return "", e.Close(idx, false)
		},
		"close!": func(string) (string, error) {
			idx, err := e.currentIndex()
			if err != nil {
				return "", err
			}
			return "", e.Close(idx, true)
		},
		"next": func(string) (string, error) {
			e.Next()
			e.CommitCycle()
			return "", nil
		},
		"prev": func(string) (string, error) {
			e.Prev()
			e.CommitCycle()
			return "", nil
		},
		"ls":     func(string) (string, error) { return e.listDocuments(), nil },
		"status": func(string) (string, error) { return e.statusLine() + "\n", nil },
		"cancel": func(string) (string, error) {
			e.CancelCommand()
			return "", nil
		},
		"tool": func(args string) (string, error) {
			return "", e.RunTool(args)
		},
		"grep": func(args string) (string, error) {
			req, err := parseGrepArgs(args)
			if err != nil {
				return "", err
			}
			return "", e.Execute(jobqueue.Command{Line: jobqueue.GrepLine(req), Subsystem: jobqueue.SubsystemGrep})
		},
	}
}

// Builtins lists builtin command names.
func (e *Editor) Builtins() []string {
	names := make([]string, 0, len(e.builtins))
	for name := range e.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunBuiltin runs an editor command such as "save" or "open path" and
// shows its output.
func (e *Editor) RunBuiltin(line string) error {
	text, err := e.runBuiltin(line)
	if text != "" {
		e.appendOutput(e.outputSeq, text)
	}
	return err
}

func (e *Editor) runBuiltin(line string) (string, error) {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	fn, ok := e.builtins[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBuiltin, name)
	}
	return fn(strings.TrimSpace(args))
}

// parseGrepArgs reads "[-w] [-c] [-d] [-b] [-g glob;glob] search".
func parseGrepArgs(args string) (jobqueue.GrepRequest, error) {
	var req jobqueue.GrepRequest
	fields := strings.Fields(args)
	i := 0
flags:
	for ; i < len(fields); i++ {
		switch fields[i] {
		case "-w":
			req.Flags |= jobqueue.GrepWholeWord
		case "-c":
			req.Flags |= jobqueue.GrepMatchCase
		case "-d":
			req.Flags |= jobqueue.GrepDotDirs
		case "-b":
			req.Flags |= jobqueue.GrepBinary
		case "-g":
			if i+1 < len(fields) {
				i++
				req.Patterns = append(req.Patterns, strings.Split(fields[i], ";")...)
			}
		default:
			break flags
		}
	}
	req.Search = strings.Join(fields[i:], " ")
	if req.Search == "" {
		return req, errors.New("grep: search string required")
	}
	return req, nil
}

func (e *Editor) currentIndex() (int, error) {
	idx := e.docs.Current()
	if idx < 0 {
		return -1, ErrNoDocument
	}
	return idx, nil
}

func (e *Editor) listDocuments() string {
	var b strings.Builder
	cur := e.docs.Current()
	for i, doc := range e.docs.Documents() {
		marker := " "
		if i == cur {
			marker = "*"
		}
		flags := ""
		if doc.Dirty {
			flags += " modified"
		}
		if doc.FailedSave {
			flags += " save-failed"
		}
		if doc.ChangedOnDisk {
			flags += " changed-on-disk"
		}
		if _, kind, ok := doc.ActiveTask(); ok {
			flags += " busy:" + kind.String()
		}
		if !e.docs.Visible(i) {
			flags += " hidden"
		}
		fmt.Fprintf(&b, "%s%d %s [%s %s]%s\n", marker, i, e.displayName(doc), doc.State, doc.Encoding, flags)
	}
	return b.String()
}

func (e *Editor) statusLine() string {
	act := e.Activities()
	if !act.Active() && act.Quiet == 0 {
		return "idle"
	}
	parts := []string{}
	if act.Loading > 0 {
		parts = append(parts, fmt.Sprintf("loading %d", act.Loading))
	}
	if act.Saving > 0 {
		parts = append(parts, fmt.Sprintf("saving %d", act.Saving))
	}
	if act.Quiet > 0 {
		parts = append(parts, fmt.Sprintf("autosaving %d", act.Quiet))
	}
	s := strings.Join(parts, ", ")
	if act.Total > 0 {
		s += fmt.Sprintf(" (%d%%: %s)", act.Percent(), strings.Join(act.FileNames, ", "))
	}
	return s
}
