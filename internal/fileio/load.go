package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"penman/cli/internal/textbuf"
	"penman/cli/internal/textenc"
	"penman/cli/internal/worker"
)

// Loader reads a file into a fresh document buffer. The file is opened by
// OpenLoad on the caller's goroutine so that open errors surface there.
type Loader struct {
	task     *worker.Task
	listener worker.Listener
	opts     Options
	limiter  *rate.Limiter

	path    string
	file    *os.File
	modTime time.Time
	dest    *textbuf.Memory

	encoding textenc.Encoding
}

func OpenLoad(path string, listener worker.Listener, opts Options) (*Loader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}
	opts = opts.normalized()
	return &Loader{
		task:     worker.NewTask(info.Size()),
		listener: listener,
		opts:     opts,
		limiter:  opts.limiter(),
		path:     path,
		file:     f,
		modTime:  info.ModTime(),
		dest:     textbuf.NewMemory(int(info.Size())),
	}, nil
}

func (l *Loader) Task() *worker.Task { return l.task }

func (l *Loader) Path() string { return l.path }

// ModTime is the file's modification time when it was opened.
func (l *Loader) ModTime() time.Time { return l.modTime }

// Text is the loaded text. Only meaningful once the task has completed.
func (l *Loader) Text() *textbuf.Memory { return l.dest }

// Encoding is detected from the first block. Only meaningful once the task
// has completed.
func (l *Loader) Encoding() textenc.Encoding { return l.encoding }

func (l *Loader) Execute() {
	res := l.run()
	l.task.Complete(res)
	l.opts.Logger.Debug("file load finished", "path", l.path, "outcome", res.Outcome.String(), "bytes", res.Bytes)
	l.listener.PostOnMainThread(worker.ReasonDataRead, l)
}

func (l *Loader) run() worker.Result {
	defer func() { _ = l.file.Close() }()

	buf := make([]byte, l.opts.BlockSize)
	var out *transform.Writer
	for !l.task.Cancelling() {
		n, err := io.ReadFull(l.file, buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return worker.Result{Outcome: worker.OutcomeFailed, Err: fmt.Errorf("read %s: %w", l.path, err)}
		}
		if out == nil {
			l.encoding = textenc.Detect(buf[:n], l.opts.SniffUTF8)
			out = transform.NewWriter(l.dest, textenc.NewDecoder(l.encoding))
		}
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return worker.Result{Outcome: worker.OutcomeFailed, Err: fmt.Errorf("decode %s: %w", l.path, werr)}
			}
			l.task.AddProgress(int64(n))
			l.reportProgress()
		}
		if eof {
			break
		}
		if !l.task.Sleep(l.opts.Sleep) {
			break
		}
	}
	if l.task.Cancelling() {
		return worker.Result{Outcome: worker.OutcomeCancelled, Bytes: l.task.Progress()}
	}
	if err := out.Close(); err != nil {
		return worker.Result{Outcome: worker.OutcomeFailed, Err: fmt.Errorf("decode %s: %w", l.path, err)}
	}
	return worker.Result{Outcome: worker.OutcomeSucceeded, Bytes: l.task.Progress()}
}

func (l *Loader) reportProgress() {
	if l.limiter.Allow() {
		l.listener.PostOnMainThread(worker.ReasonProgress, l)
	}
}
