// Package state holds the runtime flags shared between workers.
// It is a read-only convenience mirror of bus state kinds, not a second
// bus: workers publish state messages as usual and the flags store just
// remembers the latest value for gating decisions and the console.
package state

import (
	"sync"
	"time"

	"botnerd/internal/types"
)

// Flags is the mutex-guarded runtime flag store.
type Flags struct {
	mu          sync.RWMutex
	micMuted    bool
	speaking    bool
	moving      bool
	thinking    bool
	chimeActive bool
	lastWakeAt  time.Time
}

// Snapshot is a point-in-time copy of every flag.
type Snapshot struct {
	MicMuted    bool
	Speaking    bool
	Moving      bool
	Thinking    bool
	ChimeActive bool
	LastWakeAt  time.Time
}

// New returns a flag store with everything cleared.
func New() *Flags {
	return &Flags{}
}

// Snapshot returns a copy of the current flags.
func (f *Flags) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Snapshot{
		MicMuted:    f.micMuted,
		Speaking:    f.speaking,
		Moving:      f.moving,
		Thinking:    f.thinking,
		ChimeActive: f.chimeActive,
		LastWakeAt:  f.lastWakeAt,
	}
}

// MicGated reports whether the microphone should stay closed right now.
// The mic is gated while the bot is producing sound or motion of its own,
// so it does not transcribe itself.
func (f *Flags) MicGated() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.micMuted || f.speaking || f.moving || f.thinking || f.chimeActive
}

// SetMicMuted sets the explicit mute flag.
func (f *Flags) SetMicMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micMuted = muted
}

// MarkWake records the moment a wake phrase opened the mic window.
func (f *Flags) MarkWake(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWakeAt = at
}

// Apply updates flags from a bus state message. Non-state kinds are
// ignored so every worker can feed its inbox through here unconditionally.
func (f *Flags) Apply(msg types.Message) {
	switch msg.Kind {
	case types.KindSpeechStarted:
		f.setSpeaking(true)
	case types.KindSpeechFinished:
		f.setSpeaking(false)
	case types.KindMotionState:
		if p, ok := msg.Payload.(types.MotionState); ok {
			f.setMoving(p.Moving)
		}
	case types.KindThinkingState:
		if p, ok := msg.Payload.(types.ThinkingState); ok {
			f.setThinking(p.Active)
		}
	case types.KindChimeState:
		if p, ok := msg.Payload.(types.ChimeState); ok {
			f.setChime(p.Active)
		}
	case types.KindWakeDetected:
		f.MarkWake(msg.CreatedAt)
	}
}

func (f *Flags) setSpeaking(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = v
}

func (f *Flags) setMoving(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moving = v
}

func (f *Flags) setThinking(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thinking = v
}

func (f *Flags) setChime(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chimeActive = v
}
