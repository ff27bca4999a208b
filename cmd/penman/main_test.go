package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"penman/cli/internal/buffers"
	"penman/cli/internal/config"
	"penman/cli/internal/editor"
	"penman/cli/internal/global"
	"penman/cli/internal/mainloop"
	"penman/cli/internal/protocol"
)

func newTestRepl(t *testing.T) (*repl, *bytes.Buffer, *bool) {
	t.Helper()
	var out bytes.Buffer
	host := newConsoleHost(&out)
	ed := editor.New(editor.Options{
		Props: global.DefaultProperties(),
		Host:  host,
		Loop:  mainloop.New(nil),
	})
	quit := false
	return &repl{editor: ed, host: host, out: &out, quit: func() { quit = true }}, &out, &quit
}

func TestReplAppendAndPrint(t *testing.T) {
	r, out, _ := newTestRepl(t)
	r.handle("a first")
	r.handle("a second")
	out.Reset()
	r.handle("p")
	if out.String() != "first\nsecond\n" {
		t.Fatalf("unexpected document text %q", out.String())
	}
}

func TestReplBuiltinsAndErrors(t *testing.T) {
	r, out, quit := newTestRepl(t)
	r.handle("new")
	r.handle("ls")
	if !strings.Contains(out.String(), "*0 Untitled") {
		t.Fatalf("expected listing, got %q", out.String())
	}
	out.Reset()
	r.handle("save")
	if !strings.Contains(out.String(), "[error]") {
		t.Fatalf("expected error for untitled save, got %q", out.String())
	}
	out.Reset()
	r.handle("!make")
	if !strings.Contains(out.String(), "not configured") {
		t.Fatalf("expected queue error, got %q", out.String())
	}
	r.handle("quit")
	if !*quit {
		t.Fatal("quit was not requested")
	}
}

func TestConsoleHostProgressSteps(t *testing.T) {
	var out bytes.Buffer
	h := newConsoleHost(&out)
	step := func(p int64) {
		h.Progress(buffers.Activities{Loading: 1, Progress: p, Total: 100, FileNames: []string{"big.txt"}})
	}
	step(1)
	step(5)
	step(12)
	step(100)
	h.Progress(buffers.Activities{})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 progress lines, got %d: %q", len(lines), out.String())
	}
	if lines[3] != "[progress] done" {
		t.Fatalf("unexpected last line %q", lines[3])
	}
}

func TestConsoleHostConfirmDeclines(t *testing.T) {
	var out bytes.Buffer
	h := newConsoleHost(&out)
	if h.Confirm("Discard changes?") {
		t.Fatal("console host must decline")
	}
	if !strings.Contains(out.String(), "Discard changes?") {
		t.Fatalf("question not shown: %q", out.String())
	}
}

type recordingPublisher struct{ ops []string }

func (p *recordingPublisher) Publish(op string, _ any) { p.ops = append(p.ops, op) }

func TestJobWatcherReportsFirstCompletion(t *testing.T) {
	next := &recordingPublisher{}
	calls := 0
	code := -1
	w := &jobWatcher{next: next, done: func(c int, _ bool) {
		calls++
		code = c
	}}
	w.Publish(protocol.OpOutputAppend, protocol.OutputAppend{Seq: 1, Text: "x"})
	w.Publish(protocol.OpJobDone, protocol.JobDone{Seq: 1, ExitCode: 3})
	w.Publish(protocol.OpJobDone, protocol.JobDone{Seq: 2, ExitCode: 0})
	if calls != 1 || code != 3 {
		t.Fatalf("unexpected completion calls=%d code=%d", calls, code)
	}
	if len(next.ops) != 3 {
		t.Fatalf("expected all events forwarded, got %v", next.ops)
	}
}

func TestReadLinesStopsAtEOF(t *testing.T) {
	var got []string
	eof := false
	err := readLines(context.Background(), strings.NewReader("one\ntwo\n"), func(l string) {
		got = append(got, l)
	}, func() { eof = true })
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if strings.Join(got, ",") != "one,two" || !eof {
		t.Fatalf("unexpected lines %v eof=%v", got, eof)
	}
}

func TestNewRuntimeWiresStores(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{LogLevel: "error", LogFormat: "json", ConfigDir: dir}
	rt, err := newRuntime(cfg, runtimeOptions{host: editor.NopHost{}})
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rt.manager().StartAndWait(ctx); err != nil {
		t.Fatalf("runtime did not stop cleanly: %v", err)
	}
	for _, name := range []string{"props.toml", "history.db"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s in config dir: %v", name, err)
		}
	}
	if rt.props.Jobs.Capacity != 2 {
		t.Fatalf("expected default capacity, got %d", rt.props.Jobs.Capacity)
	}
}
