package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(p string) {
	r.mu.Lock()
	r.paths = append(r.paths, p)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(rec.add, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_ReportsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	rec := &recorder{}
	w := startWatcher(t, rec)
	require.NoError(t, w.Add(path))
	require.True(t, w.Watching(path))

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	}

	abs, _ := filepath.Abs(path)
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	got := rec.snapshot()
	require.Len(t, got, 1)
	require.Equal(t, abs, got[0])
}

func TestWatcher_IgnoresUnregisteredSiblings(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "a.txt")
	other := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(watched, nil, 0o644))

	rec := &recorder{}
	w := startWatcher(t, rec)
	require.NoError(t, w.Add(watched))

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	require.Empty(t, rec.snapshot())
}

func TestWatcher_RemoveStopsReports(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	rec := &recorder{}
	w := startWatcher(t, rec)
	require.NoError(t, w.Add(path))
	w.Remove(path)
	require.False(t, w.Watching(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	require.Empty(t, rec.snapshot())
}

func TestWatcher_AddAfterClose(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Add(filepath.Join(t.TempDir(), "x")), ErrClosed)
}
