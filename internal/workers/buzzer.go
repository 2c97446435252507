package workers

import (
	"context"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// proximityBeepGap rate-limits the proximity alert; the distance stream
// arrives at 10Hz and nobody wants ten beeps a second.
const proximityBeepGap = 2 * time.Second

// BuzzerWorker sounds the piezo: a rate-limited alert when something gets
// close, and countdown chimes for enrollment. Chime playback is bracketed
// by chime_state so the mic stays closed while the bot beeps at itself.
type BuzzerWorker struct {
	*BaseWorker
	cfg    *config.Config
	beeper types.Beeper

	lastProximityAt time.Time
	chiming         bool
}

// NewBuzzerWorker wires the beeper collaborator.
func NewBuzzerWorker(cfg *config.Config, bus types.Publisher, beeper types.Beeper) *BuzzerWorker {
	return &BuzzerWorker{
		BaseWorker: NewBase("buzzer", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		beeper:     beeper,
	}
}

func (w *BuzzerWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{
		types.KindDistanceReading,
		types.KindChimeRequested,
		types.KindCommandRequested,
	}
}

func (w *BuzzerWorker) OnMessage(ctx context.Context, msg types.Message) error {
	switch msg.Kind {
	case types.KindDistanceReading:
		if p, ok := msg.Payload.(types.DistanceReading); ok {
			return w.proximity(p.Meters)
		}
	case types.KindChimeRequested:
		if p, ok := msg.Payload.(types.ChimeRequest); ok {
			return w.chime(ctx, p, msg.CorrelationID)
		}
	case types.KindCommandRequested:
		cmd, ok := msg.Payload.(types.Command)
		if !ok || cmd.Verb != types.VerbBeep || !cmd.Approved {
			return nil
		}
		logging.Buzzer("Beep requested by %q", cmd.RequestedBy)
		return w.beeper.Beep("ack")
	}
	return nil
}

func (w *BuzzerWorker) proximity(meters float64) error {
	if meters >= w.cfg.Safety.ProximityAlertM || w.chiming {
		return nil
	}
	if time.Since(w.lastProximityAt) < proximityBeepGap {
		return nil
	}
	w.lastProximityAt = time.Now()
	logging.BuzzerDebug("Proximity alert at %.2fm", meters)
	return w.beeper.Beep("proximity")
}

// chime plays the enrollment countdown. The worker blocks here for the
// whole countdown; nothing else the buzzer does is urgent enough to matter.
func (w *BuzzerWorker) chime(ctx context.Context, req types.ChimeRequest, correlationID string) error {
	steps := req.Steps
	if steps < 1 {
		steps = 3
	}
	interval := req.Interval
	if interval <= 0 {
		interval = time.Second
	}

	w.chiming = true
	if err := w.PublishCorrelated(types.KindChimeState, types.ChimeState{Active: true}, correlationID); err != nil {
		logging.Buzzer("chime_state publish failed: %v", err)
	}
	defer func() {
		w.chiming = false
		if err := w.PublishCorrelated(types.KindChimeState, types.ChimeState{Active: false}, correlationID); err != nil {
			logging.Buzzer("chime_state publish failed: %v", err)
		}
	}()

	logging.Buzzer("Chime countdown: %d steps at %v", steps, interval)
	for i := 0; i < steps; i++ {
		if err := w.beeper.Beep("chime"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}
