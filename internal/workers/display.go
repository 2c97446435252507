package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// angryHold is how long a vision fault keeps the face angry.
const angryHold = 5 * time.Second

// greetingHold is how long the greeting face stays up after someone appears.
const greetingHold = 3 * time.Second

// DisplayWorker derives the face from recent bus traffic and renders it.
// Emotion is never stored anywhere; it is recomputed every tick from what
// the display has lately seen, in fixed precedence: angry beats stuck beats
// suspicious beats greeting beats lonely beats happy.
type DisplayWorker struct {
	*BaseWorker
	cfg      *config.Config
	renderer types.Renderer

	// Derivation inputs. Only touched from the worker goroutine.
	sighting     types.IdentitySighting
	lastFaceAt   time.Time
	appearedAt   time.Time
	startedAt    time.Time
	clearanceM   float64
	belowSince   time.Time
	lastFaultAt  time.Time
	lastEmotion  types.Emotion
	lastSubtitle string
}

// NewDisplayWorker wires the renderer collaborator.
func NewDisplayWorker(cfg *config.Config, bus types.Publisher, renderer types.Renderer) *DisplayWorker {
	return &DisplayWorker{
		BaseWorker: NewBase("display", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		renderer:   renderer,
		clearanceM: -1,
	}
}

func (w *DisplayWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{
		types.KindIdentityObserved,
		types.KindDistanceReading,
		types.KindWorkerFault,
	}
}

func (w *DisplayWorker) OnStart(ctx context.Context) error {
	w.startedAt = time.Now()
	return nil
}

func (w *DisplayWorker) TickInterval() time.Duration { return w.cfg.GetRenderInterval() }

func (w *DisplayWorker) OnMessage(ctx context.Context, msg types.Message) error {
	now := time.Now()
	switch msg.Kind {
	case types.KindIdentityObserved:
		if s, ok := msg.Payload.(types.IdentitySighting); ok {
			if now.Sub(w.lastFaceAt) > appearGap {
				w.appearedAt = now
			}
			w.sighting = s
			w.lastFaceAt = now
		}
	case types.KindDistanceReading:
		if p, ok := msg.Payload.(types.DistanceReading); ok {
			w.clearanceM = p.Meters
			if p.Meters >= w.cfg.Safety.MinClearanceM {
				w.belowSince = time.Time{}
			} else if w.belowSince.IsZero() {
				w.belowSince = now
			}
		}
	case types.KindWorkerFault:
		if p, ok := msg.Payload.(types.WorkerFault); ok && p.Worker == "vision" {
			w.lastFaultAt = now
		}
	}
	return nil
}

// OnTick recomputes the face and renders only when something changed.
func (w *DisplayWorker) OnTick(ctx context.Context) error {
	emotion := w.deriveEmotion(time.Now())
	subtitle := w.subtitle()
	if emotion == w.lastEmotion && subtitle == w.lastSubtitle {
		return nil
	}
	w.lastEmotion = emotion
	w.lastSubtitle = subtitle
	logging.DisplayDebug("Face %s (%s)", emotion, subtitle)
	if err := w.renderer.Render(emotion, subtitle); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return nil
}

func (w *DisplayWorker) deriveEmotion(now time.Time) types.Emotion {
	facePresent := !w.lastFaceAt.IsZero() && now.Sub(w.lastFaceAt) <= appearGap

	switch {
	case !w.lastFaultAt.IsZero() && now.Sub(w.lastFaultAt) <= angryHold:
		return types.EmotionAngry
	case !w.belowSince.IsZero() && now.Sub(w.belowSince) >= w.cfg.GetStuckAfter():
		return types.EmotionStuck
	case facePresent && w.sighting.Unknown():
		return types.EmotionSuspicious
	case facePresent && now.Sub(w.appearedAt) <= greetingHold:
		return types.EmotionGreeting
	case !facePresent && now.Sub(w.quietStart()) >= w.cfg.GetLonelyAfter():
		return types.EmotionLonely
	default:
		return types.EmotionHappy
	}
}

// quietStart is when the display last had company.
func (w *DisplayWorker) quietStart() time.Time {
	if w.lastFaceAt.IsZero() {
		return w.startedAt
	}
	return w.lastFaceAt
}

// subtitle is the status line under the face: clearance, name, trust.
func (w *DisplayWorker) subtitle() string {
	parts := make([]string, 0, 3)
	if w.clearanceM >= 0 {
		parts = append(parts, fmt.Sprintf("%.2fm", w.clearanceM))
	}
	if time.Since(w.lastFaceAt) <= appearGap {
		name := w.sighting.DisplayName
		if name == "" {
			name = "stranger"
		}
		parts = append(parts, name, w.sighting.Trust.String())
	}
	return strings.Join(parts, "  ")
}

func (w *DisplayWorker) OnStop() error {
	if err := w.renderer.Close(); err != nil {
		return fmt.Errorf("renderer close failed: %w", err)
	}
	return nil
}
