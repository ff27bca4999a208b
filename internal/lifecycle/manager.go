package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"penman/cli/internal/logging"
)

const DefaultShutdownTimeout = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs until the first fails or the context ends,
// then runs shutdown jobs in registration order.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewManager() *Manager {
	return &Manager{logger: logging.Discard(), shutdownTimeout: DefaultShutdownTimeout}
}

func (m *Manager) SetLogger(lg *slog.Logger) {
	m.mu.Lock()
	m.logger = logging.OrDiscard(lg)
	m.mu.Unlock()
}

func (m *Manager) SetShutdownTimeout(d time.Duration) {
	m.mu.Lock()
	if d > 0 {
		m.shutdownTimeout = d
	}
	m.mu.Unlock()
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runJobs, shutdownJobs, lg, timeout := m.snapshot()

	g, runCtx := errgroup.WithContext(ctx)
	for _, j := range runJobs {
		j := j
		g.Go(func() error {
			err := j.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("run job failed", "job", j.name, "err", err)
				return err
			}
			lg.Debug("run job stopped", "job", j.name)
			return nil
		})
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var shutdownErr error
	for _, j := range shutdownJobs {
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job, *slog.Logger, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]job, len(m.runJobs))
	copy(runs, m.runJobs)
	shutdowns := make([]job, len(m.shutdownJobs))
	copy(shutdowns, m.shutdownJobs)
	return runs, shutdowns, m.logger, m.shutdownTimeout
}
