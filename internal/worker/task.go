package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID names a task inside a Registry. Documents hold an ID, never the task.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ErrCancelled is returned by callers that surface a cancelled outcome as an
// error. Tasks themselves never report cancellation through Result.Err.
var ErrCancelled = errors.New("worker: task cancelled")

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Result is the terminal state of a task. Err is set only for OutcomeFailed.
type Result struct {
	Outcome Outcome
	Bytes   int64
	Err     error
}

// Job is anything that owns a Task and can be handed to a Listener.
type Job interface {
	Task() *Task
}

// Runnable is a Job with a body that runs on its own goroutine.
type Runnable interface {
	Job
	Execute()
}

// Task carries the shared state of one unit of background work: completion,
// cancellation request, and byte progress. All fields are guarded by mu.
type Task struct {
	id ID

	mu         sync.Mutex
	started    bool
	completed  bool
	cancelling bool
	total      int64
	progress   int64
	result     Result
	startedAt  time.Time
	finishedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	doneCh     chan struct{}
}

func NewTask(total int64) *Task {
	if total < 0 {
		total = 0
	}
	return &Task{
		id:       NewID(),
		total:    total,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (t *Task) ID() ID { return t.id }

// Start launches job.Execute on a new goroutine. Starting a task twice
// panics. A task cancelled before Start never runs.
func Start(job Runnable) {
	if !job.Task().markStarted() {
		return
	}
	go job.Execute()
}

// RunInline runs job.Execute on the calling goroutine. Used for work small
// enough to finish synchronously.
func RunInline(job Runnable) {
	if !job.Task().markStarted() {
		return
	}
	job.Execute()
}

func (t *Task) markStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		panic("worker: task started twice")
	}
	t.started = true
	if t.completed {
		return false
	}
	t.startedAt = time.Now()
	return true
}

// Cancel requests cooperative cancellation and blocks until the task has
// completed. It must not be called from the task's own goroutine.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelling = true
	if !t.started && !t.completed {
		t.completeLocked(Result{Outcome: OutcomeCancelled})
	}
	t.mu.Unlock()
	t.cancelOnce.Do(func() { close(t.cancelCh) })
	<-t.doneCh
}

func (t *Task) Cancelling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelling
}

// CancelRequested is closed once Cancel has been called.
func (t *Task) CancelRequested() <-chan struct{} {
	return t.cancelCh
}

func (t *Task) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Done is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.doneCh
}

// Complete records the terminal result. Only the first call has effect.
func (t *Task) Complete(res Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeLocked(res)
}

func (t *Task) completeLocked(res Result) {
	if t.completed {
		return
	}
	if t.cancelling && res.Outcome == OutcomeSucceeded {
		res.Outcome = OutcomeCancelled
	}
	if res.Bytes == 0 {
		res.Bytes = t.progress
	}
	t.result = res
	t.completed = true
	t.finishedAt = time.Now()
	close(t.doneCh)
}

func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Task) SetTotal(total int64) {
	if total < 0 {
		total = 0
	}
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

func (t *Task) Progress() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// AddProgress advances progress by n and returns the new value. Progress
// never decreases.
func (t *Task) AddProgress(n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.progress += n
	}
	return t.progress
}

// Snapshot returns progress and total under one lock.
func (t *Task) Snapshot() (progress, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress, t.total
}

// Elapsed is the running time so far, or the full duration once completed.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	if t.completed {
		return t.finishedAt.Sub(t.startedAt)
	}
	return time.Since(t.startedAt)
}

// Sleep pauses for d unless cancellation arrives first. It reports whether
// the full duration elapsed.
func (t *Task) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !t.Cancelling()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.cancelCh:
		return false
	}
}
