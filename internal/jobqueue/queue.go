package jobqueue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"penman/cli/internal/worker"
)

const (
	DefaultCapacity     = 2
	DefaultPollInterval = 50 * time.Millisecond
)

type Options struct {
	// Capacity bounds pending commands, counting the one executing.
	Capacity           int
	ClearBeforeExecute bool
	TimeCommands       bool
	// PollInterval is how often a running command re-checks the cancel
	// counter in addition to being signalled.
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (o Options) normalized() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Queue is a bounded FIFO of commands executed one at a time by Run.
type Queue struct {
	opts     Options
	listener worker.Listener

	mu        sync.Mutex
	pending   []*Execution
	executing bool
	seq       uint64
	executors map[Subsystem]Executor
	fallback  Executor

	cancelFlag   atomic.Int64
	cancelSignal chan struct{}
	wake         chan struct{}
}

func New(listener worker.Listener, opts Options) *Queue {
	return &Queue{
		opts:         opts.normalized(),
		listener:     listener,
		executors:    map[Subsystem]Executor{},
		fallback:     ProcessExecutor{},
		cancelSignal: make(chan struct{}, 1),
		wake:         make(chan struct{}, 1),
	}
}

// SetExecutor routes commands of sub to ex. Subsystems without an executor
// use a ProcessExecutor.
func (q *Queue) SetExecutor(sub Subsystem, ex Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ex == nil {
		delete(q.executors, sub)
		return
	}
	q.executors[sub] = ex
}

func (q *Queue) SetFallback(ex Executor) {
	q.mu.Lock()
	q.fallback = ex
	q.mu.Unlock()
}

// Enqueue appends cmd. It fails with ErrQueueFull at capacity unless cmd
// carries FlagForceQueue.
func (q *Queue) Enqueue(cmd Command) (*Execution, error) {
	if cmd.Line == "" {
		return nil, ErrEmptyCommand
	}
	q.mu.Lock()
	if len(q.pending) >= q.opts.Capacity && !cmd.Flags.Has(FlagForceQueue) {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %d commands pending", ErrQueueFull, len(q.pending))
	}
	q.seq++
	exe := newExecution(q.seq, cmd, q.listener)
	q.pending = append(q.pending, exe)
	q.mu.Unlock()

	q.opts.Logger.Debug("command queued", "seq", exe.seq, "subsystem", cmd.Subsystem.String(), "line", cmd.Line)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return exe, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) IsExecuting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.executing
}

func (q *Queue) HasCommandToRun() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// ClearPending drops queued commands that have not started.
func (q *Queue) ClearPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	keep := 0
	if q.executing && len(q.pending) > 0 {
		keep = 1
	}
	dropped := len(q.pending) - keep
	q.pending = q.pending[:keep]
	return dropped
}

// Cancel abandons the command executing now. It returns the new counter.
// A cancel issued while idle does not affect the next command.
func (q *Queue) Cancel() int64 {
	q.mu.Lock()
	v := q.cancelFlag.Add(1)
	q.mu.Unlock()
	select {
	case q.cancelSignal <- struct{}{}:
	default:
	}
	return v
}

func (q *Queue) CancelFlag() int64 { return q.cancelFlag.Load() }

// Run executes queued commands until ctx is done. Cancelling ctx abandons
// the running command and waits for it to exit.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			exe, token := q.next()
			if exe == nil {
				break
			}
			q.runOne(ctx, exe, token)
			q.pop(exe)
			if ctx.Err() != nil {
				q.setIdle()
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

// next marks the head command as executing and returns it with the cancel
// counter at that moment. Cancel takes q.mu, so any Cancel ordered after
// the command started changes the counter.
func (q *Queue) next() (*Execution, int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.executing = false
		return nil, 0
	}
	startingBatch := !q.executing
	q.executing = true
	exe := q.pending[0]
	exe.begin(startingBatch && q.opts.ClearBeforeExecute, q.opts.TimeCommands)
	return exe, q.cancelFlag.Load()
}

func (q *Queue) pop(exe *Execution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 && q.pending[0] == exe {
		q.pending[0] = nil
		q.pending = q.pending[1:]
	}
}

func (q *Queue) setIdle() {
	q.mu.Lock()
	q.executing = false
	q.mu.Unlock()
}

func (q *Queue) executorFor(sub Subsystem) Executor {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ex, ok := q.executors[sub]; ok {
		return ex
	}
	return q.fallback
}

type outcome struct {
	code int
	err  error
}

func (q *Queue) runOne(ctx context.Context, exe *Execution, token int64) {
	ex := q.executorFor(exe.cmd.Subsystem)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	started := time.Now()
	q.opts.Logger.Info("command started", "seq", exe.seq, "line", exe.cmd.Line, "dir", exe.cmd.Dir)

	done := make(chan outcome, 1)
	go func() {
		if ex == nil {
			done <- outcome{code: -1, err: ErrNoExecutor}
			return
		}
		code, err := ex.Execute(runCtx, exe.cmd, exe)
		done <- outcome{code: code, err: err}
	}()

	poll := time.NewTicker(q.opts.PollInterval)
	defer poll.Stop()
	parentDone := ctx.Done()
	cancelled := false
	abandon := func() {
		if !cancelled {
			cancelled = true
			cancelRun()
		}
	}
	var res outcome
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-q.cancelSignal:
			if q.cancelFlag.Load() != token {
				abandon()
			}
		case <-poll.C:
			if q.cancelFlag.Load() != token {
				abandon()
			}
		case <-parentDone:
			parentDone = nil
			abandon()
		}
	}

	elapsed := time.Since(started)
	exe.finish(res.code, res.err, cancelled, elapsed)
	q.opts.Logger.Info("command finished", "seq", exe.seq, "exit_code", res.code, "cancelled", cancelled, "elapsed_ms", elapsed.Milliseconds())
	if res.err != nil {
		q.opts.Logger.Warn("command failed to run", "seq", exe.seq, "err", res.err)
	}

	q.listener.PostOnMainThread(worker.ReasonCommandDone, exe)
	select {
	case <-exe.acked:
	case <-ctx.Done():
	}
}
