package workers

import (
	"context"

	"botnerd/internal/config"
	"botnerd/internal/state"
	"botnerd/internal/types"
)

// StateWorker is the single writer of the runtime flag store. Every worker
// that needs a flag (the audio worker's mic gating, the console view) reads
// the shared store instead of tracking bus state itself.
type StateWorker struct {
	*BaseWorker
	flags *state.Flags
}

// NewStateWorker wires the flag store to the bus state kinds.
func NewStateWorker(cfg *config.Config, bus types.Publisher, flags *state.Flags) *StateWorker {
	return &StateWorker{
		BaseWorker: NewBase("state", cfg.Bus.InboxSize, bus),
		flags:      flags,
	}
}

func (w *StateWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{
		types.KindSpeechStarted, types.KindSpeechFinished,
		types.KindMotionState, types.KindThinkingState,
		types.KindChimeState, types.KindWakeDetected,
	}
}

func (w *StateWorker) OnMessage(ctx context.Context, msg types.Message) error {
	w.flags.Apply(msg)
	return nil
}
