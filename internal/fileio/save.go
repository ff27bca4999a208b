package fileio

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"penman/cli/internal/textbuf"
	"penman/cli/internal/textenc"
	"penman/cli/internal/worker"
)

// Saver writes document text to a file, re-encoding it on the way. The
// source must not be edited while the save runs.
type Saver struct {
	task     *worker.Task
	listener worker.Listener
	opts     Options
	limiter  *rate.Limiter

	path     string
	file     *os.File
	src      textbuf.Handle
	encoding textenc.Encoding
	visible  bool
}

// OpenSave truncates path and prepares a save of src. Visible controls
// whether progress notifications are posted.
func OpenSave(path string, src textbuf.Handle, enc textenc.Encoding, visible bool, listener worker.Listener, opts Options) (*Saver, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	opts = opts.normalized()
	return &Saver{
		task:     worker.NewTask(int64(src.Len())),
		listener: listener,
		opts:     opts,
		limiter:  opts.limiter(),
		path:     path,
		file:     f,
		src:      src,
		encoding: enc,
		visible:  visible,
	}, nil
}

func (s *Saver) Task() *worker.Task { return s.task }

func (s *Saver) Path() string { return s.path }

func (s *Saver) Visible() bool { return s.visible }

func (s *Saver) Encoding() textenc.Encoding { return s.encoding }

func (s *Saver) Execute() {
	res := s.run()
	s.task.Complete(res)
	s.opts.Logger.Debug("file save finished", "path", s.path, "outcome", res.Outcome.String(), "bytes", res.Bytes)
	s.listener.PostOnMainThread(worker.ReasonDataWritten, s)
}

func (s *Saver) run() worker.Result {
	// transform.Writer must not close the file; Close is handled here.
	out := transform.NewWriter(struct{ io.Writer }{s.file}, textenc.NewEncoder(s.encoding))
	total := s.src.Len()
	var werr error
	for pos := 0; pos < total && !s.task.Cancelling(); {
		end := min(pos+s.opts.BlockSize, total)
		chunk, err := s.src.ReadRange(pos, end)
		if err != nil {
			werr = err
			break
		}
		if _, err := out.Write(chunk); err != nil {
			werr = err
			break
		}
		s.task.AddProgress(int64(end - pos))
		pos = end
		if s.visible && s.limiter.Allow() {
			s.listener.PostOnMainThread(worker.ReasonProgress, s)
		}
		if pos < total && !s.task.Sleep(s.opts.Sleep) {
			break
		}
	}
	cancelled := s.task.Cancelling()
	if werr == nil && !cancelled {
		werr = out.Close()
	}
	if err := s.file.Close(); err != nil && werr == nil {
		werr = err
	}
	switch {
	case werr != nil:
		return worker.Result{Outcome: worker.OutcomeFailed, Bytes: s.task.Progress(), Err: fmt.Errorf("write %s: %w", s.path, werr)}
	case cancelled:
		return worker.Result{Outcome: worker.OutcomeCancelled, Bytes: s.task.Progress()}
	default:
		return worker.Result{Outcome: worker.OutcomeSucceeded, Bytes: s.task.Progress()}
	}
}
