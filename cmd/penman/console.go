package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"penman/cli/internal/buffers"
	"penman/cli/internal/editor"
	"penman/cli/internal/protocol"
)

// consoleHost prints editor feedback on a terminal. Progress is reported in
// steps of progressStep percent to keep the console readable.
type consoleHost struct {
	mu           sync.Mutex
	out          io.Writer
	lastPercent  int
	wasActive    bool
	progressStep int
}

func newConsoleHost(out io.Writer) *consoleHost {
	return &consoleHost{out: out, lastPercent: -1, progressStep: 10}
}

func (h *consoleHost) Message(kind editor.MessageKind, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.out
	fmt.Fprintf(out, "[%s] %s\n", kind, text)
}

func (h *consoleHost) Progress(act buffers.Activities) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.out
	if !act.Active() {
		if h.wasActive {
			fmt.Fprintf(out, "[progress] done\n")
		}
		h.wasActive = false
		h.lastPercent = -1
		return
	}
	h.wasActive = true
	pct := act.Percent()
	if h.lastPercent >= 0 && pct-h.lastPercent < h.progressStep && pct != 100 {
		return
	}
	if pct == h.lastPercent {
		return
	}
	h.lastPercent = pct
	fmt.Fprintf(out, "[progress] loading %d, saving %d, %d%% %s\n", act.Loading, act.Saving, pct, strings.Join(act.FileNames, " "))
}

func (h *consoleHost) OutputClear() {}

func (h *consoleHost) OutputAppend(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.out
	fmt.Fprintf(out, "%s", text)
}

func (h *consoleHost) DocumentChanged(int) {}

// Confirm declines; the console reads commands, not answers. Forced
// variants such as close! skip the question.
func (h *consoleHost) Confirm(question string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.out
	fmt.Fprintf(out, "[confirm] %s Use the ! form of the command to proceed.\n", question)
	return false
}

// jobWatcher forwards events to an optional mirror and remembers the first
// finished command, for one-shot runs.
type jobWatcher struct {
	next editor.Publisher
	done func(code int, cancelled bool)
	once sync.Once
}

func (w *jobWatcher) Publish(op string, v any) {
	if w.next != nil {
		w.next.Publish(op, v)
	}
	if w.done == nil {
		return
	}
	if jd, ok := v.(protocol.JobDone); ok && op == protocol.OpJobDone {
		w.once.Do(func() { w.done(jd.ExitCode, jd.Cancelled) })
	}
}
