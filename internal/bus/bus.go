// Package bus implements the broadcast message bus connecting workers.
// Publishing is enqueue-only: a publish copies the message into every
// attached inbox and never runs worker logic inline. Ordering guarantee
// is FIFO per publisher; there is no total order across publishers and
// no replay for late attachments.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// Bus is the broadcast message bus.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]chan types.Message

	// Blocking-policy publishes wait at most this long per publish pass.
	publishTimeout time.Duration

	// Temporal ordering
	sequence atomic.Uint64

	// Per-kind counters
	statsMu   sync.Mutex
	published map[types.Kind]uint64
	dropped   map[types.Kind]uint64
	overflows map[types.Kind]uint64
}

// New creates a bus. publishTimeout bounds how long a blocking-policy
// publish waits on full inboxes; lossy kinds never wait.
func New(publishTimeout time.Duration) *Bus {
	if publishTimeout <= 0 {
		publishTimeout = 250 * time.Millisecond
	}
	return &Bus{
		inboxes:        make(map[string]chan types.Message),
		publishTimeout: publishTimeout,
		published:      make(map[types.Kind]uint64),
		dropped:        make(map[types.Kind]uint64),
		overflows:      make(map[types.Kind]uint64),
	}
}

// Attach registers a worker inbox for delivery. The bus never closes the
// channel; workers exit via their stop channel, and Detach just removes
// the inbox from the delivery set.
func (b *Bus) Attach(worker string, inbox chan types.Message) error {
	if worker == "" {
		return fmt.Errorf("worker name required")
	}
	if inbox == nil {
		return fmt.Errorf("nil inbox for worker %s", worker)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.inboxes[worker]; exists {
		return fmt.Errorf("worker %s already attached", worker)
	}
	b.inboxes[worker] = inbox

	logging.BusDebug("attached worker %s (inbox cap %d)", worker, cap(inbox))
	return nil
}

// Detach removes a worker from the delivery set. Messages published after
// detach are never seen by the worker, attached-again-later included.
func (b *Bus) Detach(worker string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.inboxes[worker]; exists {
		delete(b.inboxes, worker)
		logging.BusDebug("detached worker %s", worker)
	}
}

// Attached returns the names of currently attached workers.
func (b *Bus) Attached() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.inboxes))
	for name := range b.inboxes {
		names = append(names, name)
	}
	return names
}

type target struct {
	worker string
	inbox  chan types.Message
}

// Publish delivers a message to every attached inbox, the publisher's own
// included; workers filter kinds themselves. Lossy kinds evict the oldest
// queued message on a full inbox. Blocking kinds wait up to the publish
// timeout across the whole pass, then report BusOverflowError per worker
// that could not take the message; the remaining inboxes still receive it.
func (b *Bus) Publish(msg types.Message) error {
	if msg.Source == "" {
		return fmt.Errorf("message source required")
	}
	if err := types.ValidatePayload(msg); err != nil {
		return fmt.Errorf("rejected publish from %s: %w", msg.Source, err)
	}

	msg.Seq = b.sequence.Add(1)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	// Snapshot the delivery set. A single publisher publishes from one
	// goroutine, so pass N+1 cannot start before pass N finishes and
	// per-publisher FIFO holds without keeping the lock across sends.
	b.mu.RLock()
	targets := make([]target, 0, len(b.inboxes))
	for worker, inbox := range b.inboxes {
		targets = append(targets, target{worker: worker, inbox: inbox})
	}
	b.mu.RUnlock()

	b.countPublished(msg.Kind)

	if msg.Kind.Lossy() {
		for _, t := range targets {
			b.deliverLossy(t, msg)
		}
		return nil
	}

	return b.deliverBlocking(targets, msg)
}

// deliverLossy enqueues without waiting. On a full inbox the oldest
// queued message is evicted to make room; if the consumer races us the
// new message is the one dropped.
func (b *Bus) deliverLossy(t target, msg types.Message) {
	select {
	case t.inbox <- msg:
		return
	default:
	}

	select {
	case <-t.inbox:
		b.countDropped(msg.Kind)
	default:
	}

	select {
	case t.inbox <- msg:
	default:
		b.countDropped(msg.Kind)
	}
}

// deliverBlocking enqueues with a single deadline shared by the whole
// pass. Workers that cannot take the message inside the deadline are
// reported; everyone else still gets it.
func (b *Bus) deliverBlocking(targets []target, msg types.Message) error {
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()

	var errs []error
	expired := false

	for _, t := range targets {
		if expired {
			// Deadline spent on an earlier inbox; the rest get one
			// immediate attempt each.
			select {
			case t.inbox <- msg:
			default:
				errs = append(errs, b.overflow(t.worker, msg.Kind))
			}
			continue
		}

		select {
		case t.inbox <- msg:
		case <-timer.C:
			expired = true
			select {
			case t.inbox <- msg:
			default:
				errs = append(errs, b.overflow(t.worker, msg.Kind))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (b *Bus) overflow(worker string, kind types.Kind) error {
	b.countOverflow(kind)
	logging.BusWarn("inbox full for worker %s, kind %s not delivered", worker, kind)
	logging.Audit().BusOverflow(worker, string(kind))
	return &types.BusOverflowError{Worker: worker, Kind: kind}
}

func (b *Bus) countPublished(kind types.Kind) {
	b.statsMu.Lock()
	b.published[kind]++
	b.statsMu.Unlock()
}

func (b *Bus) countDropped(kind types.Kind) {
	b.statsMu.Lock()
	b.dropped[kind]++
	b.statsMu.Unlock()
}

func (b *Bus) countOverflow(kind types.Kind) {
	b.statsMu.Lock()
	b.overflows[kind]++
	b.statsMu.Unlock()
}

// Stats holds bus statistics.
type Stats struct {
	Attached  int
	Published map[types.Kind]uint64
	Dropped   map[types.Kind]uint64
	Overflows map[types.Kind]uint64
}

// Stats returns a copy of the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	attached := len(b.inboxes)
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	s := Stats{
		Attached:  attached,
		Published: make(map[types.Kind]uint64, len(b.published)),
		Dropped:   make(map[types.Kind]uint64, len(b.dropped)),
		Overflows: make(map[types.Kind]uint64, len(b.overflows)),
	}
	for k, v := range b.published {
		s.Published[k] = v
	}
	for k, v := range b.dropped {
		s.Dropped[k] = v
	}
	for k, v := range b.overflows {
		s.Overflows[k] = v
	}
	return s
}
