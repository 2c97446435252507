package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"botnerd/internal/bus"
	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// agentWorkerName is the worker whose start is preceded by an LLM
// reachability ping.
const agentWorkerName = "agent"

// StartReport is the outcome of StartAll. A failed worker is recorded
// here and skipped; the caller decides whether partial startup is
// acceptable.
type StartReport struct {
	Started []string
	Failed  map[string]error
}

// AllStarted reports whether every registered worker came up.
func (r StartReport) AllStarted() bool { return len(r.Failed) == 0 }

// Manager owns the worker lifecycles: concurrent start with per-worker
// timeouts, one message loop goroutine per worker, crash isolation at
// the loop boundary, and bounded graceful stop.
type Manager struct {
	cfg *config.Config
	bus *bus.Bus
	llm types.LLMClient

	mu      sync.Mutex
	workers []Worker
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// NewManager creates a manager for the given bus. Workers are added with
// Add before StartAll.
func NewManager(cfg *config.Config, b *bus.Bus) *Manager {
	return &Manager{cfg: cfg, bus: b}
}

// SetLLMClient attaches the language model client whose reachability is
// checked before the agent worker starts.
func (m *Manager) SetLLMClient(client types.LLMClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm = client
}

// Add registers a worker. Must be called before StartAll.
func (m *Manager) Add(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

// Workers returns the registered workers in registration order.
func (m *Manager) Workers() []Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Worker, len(m.workers))
	copy(out, m.workers)
	return out
}

// Running returns the names of workers currently in the running state.
func (m *Manager) Running() []string {
	var names []string
	for _, w := range m.Workers() {
		if w.State() == StateRunning {
			names = append(names, w.Name())
		}
	}
	return names
}

// StartAll starts every registered worker concurrently, each OnStart
// bounded by workers.start_timeout. A worker that fails to start is
// recorded in the report with a WorkerInitError and the rest continue.
// Worker loops run under a context derived from ctx; cancelling ctx
// stops them.
func (m *Manager) StartAll(ctx context.Context) (StartReport, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return StartReport{}, fmt.Errorf("manager already started")
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	workers := make([]Worker, len(m.workers))
	copy(workers, m.workers)
	llm := m.llm
	m.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryWorkers, "StartAll")
	defer timer.Stop()

	report := StartReport{Failed: make(map[string]error)}
	var reportMu sync.Mutex

	startTimeout := m.cfg.GetStartTimeout()

	// Readiness precondition: the agent worker is useless without its
	// language model, so an unreachable endpoint becomes that worker's
	// init error instead of a late runtime fault.
	skip := make(map[string]bool)
	if llm != nil && hasWorker(workers, agentWorkerName) {
		pingCtx, pingCancel := context.WithTimeout(ctx, startTimeout)
		err := llm.Ping(pingCtx)
		pingCancel()
		if err != nil {
			initErr := &types.WorkerInitError{Worker: agentWorkerName, Err: fmt.Errorf("llm ping: %w", err)}
			logging.WorkersError("[%s] %v", agentWorkerName, initErr)
			report.Failed[agentWorkerName] = initErr
			skip[agentWorkerName] = true
		} else {
			logging.Workers("llm reachable (%s)", llm.Name())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		if skip[w.Name()] {
			w.setState(StateCrashed)
			continue
		}
		g.Go(func() error {
			w.setState(StateStarting)
			startCtx, startCancel := context.WithTimeout(gctx, startTimeout)
			err := safeStart(startCtx, w)
			startCancel()
			if err != nil {
				initErr := &types.WorkerInitError{Worker: w.Name(), Err: err}
				logging.WorkersError("[%s] start failed: %v", w.Name(), err)
				w.setState(StateCrashed)
				if stopErr := w.OnStop(); stopErr != nil {
					logging.WorkersWarn("[%s] OnStop after failed start: %v", w.Name(), stopErr)
				}
				reportMu.Lock()
				report.Failed[w.Name()] = initErr
				reportMu.Unlock()
				// A failed worker never fails the group; the rest continue.
				return nil
			}

			if err := m.bus.Attach(w.Name(), w.inboxChan()); err != nil {
				w.setState(StateCrashed)
				if stopErr := w.OnStop(); stopErr != nil {
					logging.WorkersWarn("[%s] OnStop after failed attach: %v", w.Name(), stopErr)
				}
				reportMu.Lock()
				report.Failed[w.Name()] = &types.WorkerInitError{Worker: w.Name(), Err: err}
				reportMu.Unlock()
				return nil
			}

			w.setState(StateRunning)
			logging.Workers("[%s] started", w.Name())
			logging.Audit().WorkerStart(w.Name())

			m.wg.Add(1)
			go m.runLoop(loopCtx, w)

			reportMu.Lock()
			report.Started = append(report.Started, w.Name())
			reportMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here.
		return report, err
	}

	logging.Workers("started %d/%d workers", len(report.Started), len(workers))
	return report, nil
}

// safeStart runs OnStart with panic containment so a broken worker
// cannot take down startup. The recover lives in the goroutine running
// OnStart; a recover in the caller would never see the panic.
func safeStart(ctx context.Context, w Worker) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.WorkersError("PANIC RECOVERED in %s OnStart: %v", w.Name(), r)
				done <- fmt.Errorf("panic during start: %v", r)
			}
		}()
		done <- w.OnStart(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("start timed out: %w", ctx.Err())
	}
}

// runLoop is the single goroutine a worker lives in. It multiplexes the
// inbox, the stop channel, the loop context, and the optional tick. A
// panic anywhere below is recovered here: the worker transitions to
// crashed, is detached, and the rest of the system keeps running.
func (m *Manager) runLoop(ctx context.Context, w Worker) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			rtErr := &types.WorkerRuntimeError{Worker: w.Name(), Err: fmt.Errorf("panic: %v", r)}
			logging.WorkersError("PANIC RECOVERED in worker %s: %v", w.Name(), r)
			logging.Audit().WorkerCrash(w.Name(), rtErr)
			m.bus.Detach(w.Name())
			w.setState(StateCrashed)
			if err := w.OnStop(); err != nil {
				logging.WorkersWarn("[%s] OnStop after crash: %v", w.Name(), err)
			}
		}
	}()

	accepted := make(map[types.Kind]bool, len(w.AcceptedKinds()))
	for _, k := range w.AcceptedKinds() {
		accepted[k] = true
	}

	var tickC <-chan time.Time
	var ticker Ticker
	if tk, ok := w.(Ticker); ok && tk.TickInterval() > 0 {
		t := time.NewTicker(tk.TickInterval())
		defer t.Stop()
		tickC = t.C
		ticker = tk
	}

	inbox := w.inboxChan()
	stop := w.stopChan()

	for {
		select {
		case <-stop:
			m.finishWorker(w, false)
			return
		case <-ctx.Done():
			m.finishWorker(w, false)
			return
		case <-tickC:
			if err := ticker.OnTick(ctx); err != nil {
				m.handleFault(w, err)
			}
		case msg := <-inbox:
			if !accepted[msg.Kind] {
				continue
			}
			if err := w.OnMessage(ctx, msg); err != nil {
				m.handleFault(w, err)
			}
		}
	}
}

// handleFault is the handled-failure path: log, publish worker_fault,
// keep the loop running.
func (m *Manager) handleFault(w Worker, err error) {
	logging.WorkersWarn("[%s] handled failure: %v", w.Name(), err)
	fault := types.NewMessage(types.KindWorkerFault, w.Name(), types.WorkerFault{Worker: w.Name(), Err: err.Error()})
	if pubErr := m.bus.Publish(fault); pubErr != nil {
		logging.WorkersWarn("[%s] worker_fault publish failed: %v", w.Name(), pubErr)
	}
}

// finishWorker is the orderly exit path: detach first so no more
// messages arrive, release resources, then record the state.
func (m *Manager) finishWorker(w Worker, forced bool) {
	m.bus.Detach(w.Name())
	if err := w.OnStop(); err != nil {
		logging.WorkersWarn("[%s] OnStop: %v", w.Name(), err)
	}
	w.setState(StateStopped)
	logging.Workers("[%s] stopped", w.Name())
	logging.Audit().WorkerStop(w.Name(), forced)
}

// StopAll signals every worker and waits up to timeout for the loops to
// drain. Stragglers are force-detached from the bus and marked stopped;
// their OnStop runs when their loop finally observes the cancel. Returns
// when no worker is left running.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.Lock()
	workers := make([]Worker, len(m.workers))
	copy(workers, m.workers)
	cancel := m.cancel
	m.mu.Unlock()

	logging.Workers("stopping %d workers (grace %v)", len(workers), timeout)

	for _, w := range workers {
		w.casState(StateRunning, StateStopping)
		w.signalStop()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Workers("all workers drained")
	case <-time.After(timeout):
		for _, w := range workers {
			if w.State() == StateStopping {
				logging.WorkersWarn("[%s] did not drain in %v, force detaching", w.Name(), timeout)
				m.bus.Detach(w.Name())
				w.setState(StateStopped)
				logging.Audit().WorkerStop(w.Name(), true)
			}
		}
	}
}

func hasWorker(workers []Worker, name string) bool {
	for _, w := range workers {
		if w.Name() == name {
			return true
		}
	}
	return false
}
