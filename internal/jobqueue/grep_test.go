package jobqueue

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func runGrep(t *testing.T, ctx context.Context, root string, req GrepRequest) (int, []string) {
	t.Helper()
	var out bytes.Buffer
	code, err := GrepExecutor{}.Execute(ctx, Command{Line: GrepLine(req), Dir: root, Subsystem: SubsystemGrep}, &out)
	require.NoError(t, err)
	text := strings.TrimSpace(out.String())
	if text == "" {
		return code, nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = filepath.ToSlash(strings.TrimPrefix(line, root+string(filepath.Separator)))
	}
	return code, lines
}

func TestParseGrep(t *testing.T) {
	req, err := ParseGrep("w~d~\t*.go;*.txt\tneedle in")
	require.NoError(t, err)
	require.Equal(t, GrepWholeWord|GrepDotDirs, req.Flags)
	require.Equal(t, []string{"*.go", "*.txt"}, req.Patterns)
	require.Equal(t, "needle in", req.Search)

	back, err := ParseGrep(GrepLine(req))
	require.NoError(t, err)
	require.Equal(t, req, back)

	_, err = ParseGrep("wc~~\t*.go")
	require.ErrorIs(t, err, ErrBadGrep)
}

func TestGrepExecutor_FindsMatchesFilesFirst(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":         "alpha\nNeedle here\nomega\n",
		"sub/b.txt":     "needle\n",
		"sub/c.go":      "needles\n",
		".hidden/d.txt": "needle\n",
		"bin.dat":       "needle\x00\n",
	})
	code, lines := runGrep(t, context.Background(), root, GrepRequest{Search: "needle"})
	require.Zero(t, code)
	require.Equal(t, []string{
		"a.txt:2:Needle here",
		"sub/b.txt:1:needle",
		"sub/c.go:1:needles",
	}, lines)
}

func TestGrepExecutor_Flags(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":         "Needle\nneedle_x\nx needle y\n",
		".hidden/d.txt": "needle\n",
		"bin.dat":       "needle\x00\n",
		"skip.md":       "needle\n",
	})

	_, lines := runGrep(t, context.Background(), root, GrepRequest{Search: "needle", Flags: GrepMatchCase, Patterns: []string{"*.txt"}})
	require.Equal(t, []string{"a.txt:2:needle_x", "a.txt:3:x needle y"}, lines)

	_, lines = runGrep(t, context.Background(), root, GrepRequest{Search: "needle", Flags: GrepWholeWord, Patterns: []string{"*.txt"}})
	require.Equal(t, []string{"a.txt:1:Needle", "a.txt:3:x needle y"}, lines)

	_, lines = runGrep(t, context.Background(), root, GrepRequest{Search: "needle", Flags: GrepDotDirs | GrepWholeWord, Patterns: []string{"*.txt"}})
	require.Contains(t, lines, ".hidden/d.txt:1:needle")

	_, lines = runGrep(t, context.Background(), root, GrepRequest{Search: "needle", Flags: GrepBinary, Patterns: []string{"*.dat"}})
	require.Len(t, lines, 1)
	require.True(t, strings.HasPrefix(lines[0], "bin.dat:1:"))

	code, lines := runGrep(t, context.Background(), root, GrepRequest{Search: "absent"})
	require.Equal(t, 1, code)
	require.Empty(t, lines)
}

func TestGrepExecutor_StopsWhenCancelled(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[filepath.Join("d", strings.Repeat("f", 1+i%5)+string(rune('a'+i%26))+".txt")] = "needle\n"
	}
	root := writeTree(t, files)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	code, err := GrepExecutor{}.Execute(ctx, Command{Line: GrepLine(GrepRequest{Search: "needle"}), Dir: root}, &out)
	require.NoError(t, err)
	require.Equal(t, -1, code)
	require.Empty(t, out.String())
}

// countdownCtx reports cancellation once Err has been called left times.
type countdownCtx struct {
	context.Context
	left int
}

func (c *countdownCtx) Err() error {
	if c.left > 0 {
		c.left--
		return nil
	}
	return context.Canceled
}

func TestGrepExecutor_ChecksCancelInsideLargeFile(t *testing.T) {
	root := writeTree(t, map[string]string{"big.txt": strings.Repeat("needle\n", 3*grepCheckLines)})
	ctx := &countdownCtx{Context: context.Background(), left: 1}

	var out bytes.Buffer
	code, err := GrepExecutor{}.Execute(ctx, Command{Line: GrepLine(GrepRequest{Search: "needle"}), Dir: root}, &out)
	require.NoError(t, err)
	require.Equal(t, -1, code)
	require.Empty(t, out.String())
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestGrepExecutor_CancelledThroughQueue(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/one.txt": "needle\n",
		"b/two.txt": "needle\n",
		"c/six.txt": "needle\n",
	})

	ui := newUI(true)
	q := New(ui, Options{PollInterval: time.Hour})
	var once sync.Once
	q.SetExecutor(SubsystemGrep, ExecutorFunc(func(ctx context.Context, cmd Command, out io.Writer) (int, error) {
		// Cancel after the first directory's matches and hold the walk
		// until the queue has abandoned the command.
		return GrepExecutor{}.Execute(ctx, cmd, writerFunc(func(p []byte) (int, error) {
			n, err := out.Write(p)
			once.Do(func() {
				q.Cancel()
				<-ctx.Done()
			})
			return n, err
		}))
	}))
	startQueue(t, q)

	_, err := q.Enqueue(Command{Line: GrepLine(GrepRequest{Search: "needle"}), Dir: root, Subsystem: SubsystemGrep})
	require.NoError(t, err)

	exe := recv(t, ui.done)
	require.True(t, exe.Cancelled())
	require.Equal(t, -1, exe.ExitCode())
	require.Equal(t, ">Cancelled", exe.Report())
	require.Equal(t, filepath.Join(root, "a", "one.txt")+":1:needle\n", string(exe.TakeOutput()))
}
