package mainloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"penman/cli/internal/worker"
)

type stubJob struct{ task *worker.Task }

func (j stubJob) Task() *worker.Task { return j.task }

func TestLoop_DeliversInPostingOrder(t *testing.T) {
	l := New(nil)
	var got []worker.Reason
	l.SetHandler(HandlerFunc(func(r worker.Reason, _ worker.Job) { got = append(got, r) }))

	job := stubJob{task: worker.NewTask(0)}
	l.PostOnMainThread(worker.ReasonProgress, job)
	l.PostOnMainThread(worker.ReasonProgress, job)
	l.PostOnMainThread(worker.ReasonDataRead, job)

	if n := l.Drain(); n != 3 {
		t.Fatalf("expected 3 events, got %d", n)
	}
	want := []worker.Reason{worker.ReasonProgress, worker.ReasonProgress, worker.ReasonDataRead}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: %v", got)
		}
	}
}

func TestLoop_PostNeverBlocksFromManyGoroutines(t *testing.T) {
	l := New(nil)
	count := 0
	l.SetHandler(HandlerFunc(func(worker.Reason, worker.Job) { count++ }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := stubJob{task: worker.NewTask(0)}
			for j := 0; j < 500; j++ {
				l.PostOnMainThread(worker.ReasonProgress, job)
			}
		}()
	}
	wg.Wait()
	if l.Pending() != 4000 {
		t.Fatalf("expected 4000 pending, got %d", l.Pending())
	}
	l.Drain()
	if count != 4000 {
		t.Fatalf("expected 4000 handled, got %d", count)
	}
}

func TestLoop_RunAndCall(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	want := errors.New("from loop")
	if err := l.Call(callCtx, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected loop error, got %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	ran := false
	l.Do(func() { ran = true })
	if l.Drain() != 0 || ran {
		t.Fatalf("events posted after stop must be dropped")
	}
}
