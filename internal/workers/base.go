// Package workers implements the robot's worker runtime: the lifecycle
// manager plus the concrete workers (ranging, vision, audio, stt, agent,
// tts, motion, display, buzzer). Every worker runs in its own goroutine,
// reacts to bus messages through the types.Worker contract, and talks to
// hardware only through the collaborator interfaces in internal/types.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// WorkerState is the lifecycle state of one worker. The normal path is
// stopped -> starting -> running -> stopping -> stopped; crashed is where
// failed starts and recovered panics land.
type WorkerState string

const (
	StateStopped  WorkerState = "stopped"
	StateStarting WorkerState = "starting"
	StateRunning  WorkerState = "running"
	StateStopping WorkerState = "stopping"
	StateCrashed  WorkerState = "crashed"
)

// Worker is the manager-facing contract: the lifecycle hooks from
// types.Worker plus the runtime plumbing BaseWorker provides. The
// unexported methods keep implementations inside this package.
type Worker interface {
	types.Worker
	State() WorkerState
	setState(WorkerState)
	casState(from, to WorkerState) bool
	inboxChan() chan types.Message
	stopChan() chan struct{}
	signalStop()
}

// Ticker is implemented by workers that also run a periodic step (sensor
// polls, render refresh, follow pulses). OnTick runs in the worker's own
// goroutine, interleaved with OnMessage; an error is a handled failure
// like an OnMessage error, a panic crashes the worker.
type Ticker interface {
	TickInterval() time.Duration
	OnTick(ctx context.Context) error
}

// BaseWorker supplies the runtime plumbing shared by every worker: name,
// state machine with transition logging, bounded inbox, stop channel, and
// the bus handle. Concrete workers embed it and implement AcceptedKinds
// and OnMessage; OnStart and OnStop default to no-ops.
type BaseWorker struct {
	name  string
	bus   types.Publisher
	inbox chan types.Message
	stop  chan struct{}

	stopOnce sync.Once

	mu    sync.RWMutex
	state WorkerState
}

// NewBase creates the plumbing for a named worker. inboxSize bounds the
// inbox; the bus's per-kind policy decides what happens when it fills.
func NewBase(name string, inboxSize int, bus types.Publisher) *BaseWorker {
	if inboxSize < 1 {
		inboxSize = 64
	}
	return &BaseWorker{
		name:  name,
		bus:   bus,
		inbox: make(chan types.Message, inboxSize),
		stop:  make(chan struct{}),
		state: StateStopped,
	}
}

// Name returns the unique worker name.
func (b *BaseWorker) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *BaseWorker) State() WorkerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *BaseWorker) setState(s WorkerState) {
	b.mu.Lock()
	old := b.state
	b.state = s
	b.mu.Unlock()
	if old != s {
		logging.WorkersDebug("[%s] state %s -> %s", b.name, old, s)
	}
}

// casState moves from -> to only if the worker is still in from. It loses
// cleanly to a loop that already finished its own transition.
func (b *BaseWorker) casState(from, to WorkerState) bool {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return false
	}
	b.state = to
	b.mu.Unlock()
	logging.WorkersDebug("[%s] state %s -> %s", b.name, from, to)
	return true
}

func (b *BaseWorker) inboxChan() chan types.Message { return b.inbox }
func (b *BaseWorker) stopChan() chan struct{}       { return b.stop }

// signalStop closes the stop channel. Safe to call repeatedly.
func (b *BaseWorker) signalStop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// OnStart is a no-op; workers with resources override it.
func (b *BaseWorker) OnStart(ctx context.Context) error { return nil }

// OnStop is a no-op; workers with resources override it.
func (b *BaseWorker) OnStop() error { return nil }

// Publish sends a message with this worker as the source.
func (b *BaseWorker) Publish(kind types.Kind, payload interface{}) error {
	return b.bus.Publish(types.NewMessage(kind, b.name, payload))
}

// PublishCorrelated sends a message carrying an existing correlation id.
func (b *BaseWorker) PublishCorrelated(kind types.Kind, payload interface{}, correlationID string) error {
	return b.bus.Publish(types.NewCorrelated(kind, b.name, payload, correlationID))
}

// Fault reports a handled failure: logged and published as worker_fault
// so the display can react. The worker keeps running.
func (b *BaseWorker) Fault(err error) {
	logging.WorkersWarn("[%s] fault: %v", b.name, err)
	if pubErr := b.Publish(types.KindWorkerFault, types.WorkerFault{Worker: b.name, Err: err.Error()}); pubErr != nil {
		logging.WorkersWarn("[%s] fault publish failed: %v", b.name, pubErr)
	}
}

// faultf is Fault with formatting.
func (b *BaseWorker) faultf(format string, args ...interface{}) {
	b.Fault(fmt.Errorf(format, args...))
}
