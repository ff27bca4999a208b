// Package mainloop is the single UI goroutine. Worker goroutines post
// notifications into its mailbox; only the loop goroutine runs handlers, so
// document state has one writer.
package mainloop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"penman/cli/internal/worker"
)

var ErrStopped = errors.New("mainloop: stopped")

// Handler reconciles one worker notification on the UI goroutine.
type Handler interface {
	WorkerCommand(reason worker.Reason, job worker.Job)
}

type HandlerFunc func(reason worker.Reason, job worker.Job)

func (f HandlerFunc) WorkerCommand(reason worker.Reason, job worker.Job) { f(reason, job) }

type event struct {
	reason worker.Reason
	job    worker.Job
	fn     func()
}

// Loop is an unbounded FIFO mailbox. Posting never blocks and never drops.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []event
	handler Handler
	stopped bool

	signal chan struct{}
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{logger: logger, signal: make(chan struct{}, 1)}
}

func (l *Loop) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// PostOnMainThread implements worker.Listener.
func (l *Loop) PostOnMainThread(reason worker.Reason, job worker.Job) {
	l.enqueue(event{reason: reason, job: job})
}

// Do schedules fn to run on the loop goroutine.
func (l *Loop) Do(fn func()) {
	if fn == nil {
		return
	}
	l.enqueue(event{fn: fn})
}

// Call runs fn on the loop goroutine and waits for its result.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	l.Do(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(ev event) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Debug("mainloop dropped event after stop", "reason", ev.reason.String())
		return
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Drain handles every queued event, including ones posted by handlers while
// draining, and returns how many ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		ev := l.queue[0]
		l.queue[0] = event{}
		l.queue = l.queue[1:]
		handler := l.handler
		l.mu.Unlock()

		l.dispatch(handler, ev)
		n++
	}
}

func (l *Loop) dispatch(handler Handler, ev event) {
	if ev.fn != nil {
		ev.fn()
		return
	}
	if handler == nil {
		l.logger.Warn("mainloop has no handler", "reason", ev.reason.String())
		return
	}
	handler.WorkerCommand(ev.reason, ev.job)
}

// Run drains the mailbox until ctx is done. Events still queued at that
// point are handled before Run returns; later posts are dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Drain()
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.Drain()
			return nil
		case <-l.signal:
			l.Drain()
		}
	}
}
