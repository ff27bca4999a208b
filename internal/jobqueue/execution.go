package jobqueue

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"penman/cli/internal/worker"
)

// Execution is one command moving through the queue. The queue goroutine
// writes output into it; the UI goroutine drains it with TakeOutput and
// acknowledges completion with Ack.
type Execution struct {
	task     *worker.Task
	seq      uint64
	cmd      Command
	listener worker.Listener

	mu           sync.Mutex
	clearOutput  bool
	timed        bool
	output       []byte
	outputPosted bool
	exitCode     int
	elapsed      time.Duration
	cancelled    bool
	err          error

	ackOnce sync.Once
	acked   chan struct{}
}

func newExecution(seq uint64, cmd Command, listener worker.Listener) *Execution {
	return &Execution{
		task:     worker.NewTask(0),
		seq:      seq,
		cmd:      cmd,
		listener: listener,
		acked:    make(chan struct{}),
	}
}

func (e *Execution) Task() *worker.Task { return e.task }

func (e *Execution) Seq() uint64 { return e.seq }

func (e *Execution) Command() Command { return e.cmd }

// Write appends streamed output. A notification is posted only when the
// previous one has been drained, so a chatty process cannot flood the
// mailbox.
func (e *Execution) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	e.mu.Lock()
	e.output = append(e.output, p...)
	post := !e.outputPosted
	e.outputPosted = true
	e.mu.Unlock()
	e.task.AddProgress(int64(len(p)))
	if post {
		e.listener.PostOnMainThread(worker.ReasonCommandOutput, e)
	}
	return len(p), nil
}

// TakeOutput returns and clears the output gathered since the last call.
func (e *Execution) TakeOutput() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.output
	e.output = nil
	e.outputPosted = false
	return out
}

// ClearOutput reports whether the output pane should be cleared before this
// command's output is shown.
func (e *Execution) ClearOutput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearOutput
}

func (e *Execution) ExitCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

func (e *Execution) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

func (e *Execution) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Err is set when the command could not be started at all.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Report is the summary line written to the output after the command.
func (e *Execution) Report() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b strings.Builder
	switch {
	case e.cancelled:
		b.WriteString(">Cancelled")
	case e.err != nil:
		fmt.Fprintf(&b, ">Failed: %v", e.err)
	default:
		fmt.Fprintf(&b, ">Exit code: %d", e.exitCode)
	}
	if e.timed {
		fmt.Fprintf(&b, "    Time: %.3f", e.elapsed.Seconds())
	}
	return b.String()
}

// Ack tells the queue that the UI has processed the completion. The next
// command starts only after this.
func (e *Execution) Ack() {
	e.ackOnce.Do(func() { close(e.acked) })
}

func (e *Execution) begin(clearOutput, timed bool) {
	e.mu.Lock()
	e.clearOutput = clearOutput
	e.timed = timed
	e.mu.Unlock()
}

func (e *Execution) finish(code int, err error, cancelled bool, elapsed time.Duration) {
	e.mu.Lock()
	e.exitCode = code
	e.err = err
	e.cancelled = cancelled
	e.elapsed = elapsed
	e.mu.Unlock()

	res := worker.Result{Outcome: worker.OutcomeSucceeded}
	switch {
	case cancelled:
		res.Outcome = worker.OutcomeCancelled
	case err != nil:
		res = worker.Result{Outcome: worker.OutcomeFailed, Err: err}
	}
	e.task.Complete(res)
}
