package fileio

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/transform"

	"penman/cli/internal/textbuf"
	"penman/cli/internal/textenc"
	"penman/cli/internal/worker"
)

type recorder struct {
	mu       sync.Mutex
	reasons  []worker.Reason
	progress chan int64
}

func newRecorder() *recorder {
	return &recorder{progress: make(chan int64, 64)}
}

func (r *recorder) PostOnMainThread(reason worker.Reason, job worker.Job) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	if reason == worker.ReasonProgress {
		r.progress <- job.Task().Progress()
	}
}

func (r *recorder) snapshot() []worker.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worker.Reason(nil), r.reasons...)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoader_ReportsProgressPerBlockThenCompletion(t *testing.T) {
	data := bytes.Repeat([]byte("naïve text\n"), 300000/12+1)[:300000]
	path := writeFile(t, "big.txt", data)
	rec := newRecorder()

	ld, err := OpenLoad(path, rec, Options{BlockSize: 131072, SniffUTF8: true})
	require.NoError(t, err)
	require.EqualValues(t, 300000, ld.Task().Total())
	worker.Start(ld)
	<-ld.Task().Done()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []worker.Reason{
		worker.ReasonProgress, worker.ReasonProgress, worker.ReasonProgress, worker.ReasonDataRead,
	}, rec.snapshot())
	require.Equal(t, []int64{131072, 262144, 300000}, []int64{<-rec.progress, <-rec.progress, <-rec.progress})

	res := ld.Task().Result()
	require.Equal(t, worker.OutcomeSucceeded, res.Outcome)
	require.EqualValues(t, 300000, res.Bytes)
	require.Equal(t, data, ld.Text().Bytes())
	require.Equal(t, textenc.EncodingUTF8Cookie, ld.Encoding())
}

func TestLoader_ThrottlesProgress(t *testing.T) {
	path := writeFile(t, "big.txt", bytes.Repeat([]byte("x"), 64*1024))
	rec := newRecorder()
	ld, err := OpenLoad(path, rec, Options{BlockSize: 1024, ProgressInterval: time.Hour})
	require.NoError(t, err)
	worker.RunInline(ld)

	require.Equal(t, []worker.Reason{worker.ReasonProgress, worker.ReasonDataRead}, rec.snapshot())
}

func TestLoader_DecodesUTF16(t *testing.T) {
	onDisk, _, err := transform.String(textenc.NewEncoder(textenc.EncodingUTF16LE), "héllo wörld\n")
	require.NoError(t, err)
	path := writeFile(t, "u16.txt", []byte(onDisk))
	rec := newRecorder()

	ld, err := OpenLoad(path, rec, Options{BlockSize: 3})
	require.NoError(t, err)
	worker.RunInline(ld)

	require.Equal(t, worker.OutcomeSucceeded, ld.Task().Result().Outcome)
	require.Equal(t, textenc.EncodingUTF16LE, ld.Encoding())
	require.Equal(t, "héllo wörld\n", ld.Text().String())
}

func TestLoader_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.txt", nil)
	rec := newRecorder()
	ld, err := OpenLoad(path, rec, Options{})
	require.NoError(t, err)
	worker.RunInline(ld)

	require.Equal(t, worker.OutcomeSucceeded, ld.Task().Result().Outcome)
	require.Equal(t, 0, ld.Text().Len())
	require.Equal(t, []worker.Reason{worker.ReasonDataRead}, rec.snapshot())
}

func TestLoader_CancelAfterFirstBlock(t *testing.T) {
	path := writeFile(t, "big.txt", bytes.Repeat([]byte("y"), 300000))
	rec := newRecorder()
	ld, err := OpenLoad(path, rec, Options{BlockSize: 131072, Sleep: time.Hour})
	require.NoError(t, err)
	worker.Start(ld)

	require.EqualValues(t, 131072, <-rec.progress)
	ld.Task().Cancel()

	res := ld.Task().Result()
	require.Equal(t, worker.OutcomeCancelled, res.Outcome)
	require.EqualValues(t, 131072, res.Bytes)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, worker.ReasonDataRead, rec.snapshot()[1])
}

func TestOpenLoad_MissingFile(t *testing.T) {
	_, err := OpenLoad(filepath.Join(t.TempDir(), "nope.txt"), newRecorder(), Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaver_WritesAllBlocks(t *testing.T) {
	text := bytes.Repeat([]byte("abcdefgh"), 40000)
	path := filepath.Join(t.TempDir(), "out.txt")
	rec := newRecorder()

	sv, err := OpenSave(path, textbuf.FromBytes(text), textenc.EncodingUTF8Cookie, true, rec, Options{BlockSize: 131072})
	require.NoError(t, err)
	worker.Start(sv)
	<-sv.Task().Done()

	require.Equal(t, worker.OutcomeSucceeded, sv.Task().Result().Outcome)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, text, got)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, worker.ReasonDataWritten, rec.snapshot()[3])
}

func TestSaver_InvisibleSuppressesProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	rec := newRecorder()
	sv, err := OpenSave(path, textbuf.FromString("hello"), textenc.Encoding8Bit, false, rec, Options{BlockSize: 2})
	require.NoError(t, err)
	worker.RunInline(sv)

	require.Equal(t, []worker.Reason{worker.ReasonDataWritten}, rec.snapshot())
	require.EqualValues(t, 5, sv.Task().Result().Bytes)
}

func TestSaver_ReencodesUTF16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	sv, err := OpenSave(path, textbuf.FromString("héllo"), textenc.EncodingUTF16BE, false, newRecorder(), Options{BlockSize: 2})
	require.NoError(t, err)
	worker.RunInline(sv)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want, _, err := transform.String(textenc.NewEncoder(textenc.EncodingUTF16BE), "héllo")
	require.NoError(t, err)
	require.Equal(t, []byte(want), got)
}

func TestSaver_CancelAfterFirstBlockLeavesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	rec := newRecorder()
	sv, err := OpenSave(path, textbuf.FromBytes(bytes.Repeat([]byte("z"), 300000)), textenc.Encoding8Bit, true, rec,
		Options{BlockSize: 131072, Sleep: time.Hour})
	require.NoError(t, err)
	worker.Start(sv)

	require.EqualValues(t, 131072, <-rec.progress)
	sv.Task().Cancel()

	require.Equal(t, worker.OutcomeCancelled, sv.Task().Result().Outcome)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 131072, info.Size())
}

func TestOpenSave_UnwritablePath(t *testing.T) {
	_, err := OpenSave(filepath.Join(t.TempDir(), "missing", "out.txt"), textbuf.FromString("x"), textenc.Encoding8Bit, true, newRecorder(), Options{})
	require.Error(t, err)
}
