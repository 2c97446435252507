package workers

import (
	"context"
	"fmt"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/state"
	"botnerd/internal/types"
)

// audioTick is the microphone scheduling cadence. Each tick decides whether
// to greet, capture, or probe; the capture calls themselves block far longer
// than one tick and missed ticks are simply dropped.
const audioTick = 100 * time.Millisecond

// appearGap is the silence on the sighting stream after which the next
// sighting counts as a fresh appearance rather than flicker.
const appearGap = 3 * time.Second

// AudioWorker owns the microphone. While nobody is engaged it runs short
// wake probes and publishes the recordings as wake candidates; after a wake
// phrase (or right after the bot finishes speaking) it holds the mic open
// and publishes whole utterances. It also speaks the greeting when a face
// appears. The mic never opens while the bot is making sound or motion of
// its own, so the bot cannot transcribe itself.
type AudioWorker struct {
	*BaseWorker
	cfg      *config.Config
	capturer types.Capturer
	flags    *state.Flags

	// Capture window state. Only touched from the worker goroutine.
	listening bool
	openUntil time.Time

	// Greeting state.
	lastSightingAt time.Time
	presentName    string
	greetedName    string
	greetPending   bool
	greetDueAt     time.Time
	lastGreetAt    time.Time
	lastHeardAt    time.Time
}

// NewAudioWorker wires the capturer collaborator and the runtime flags.
func NewAudioWorker(cfg *config.Config, bus types.Publisher, capturer types.Capturer, flags *state.Flags) *AudioWorker {
	return &AudioWorker{
		BaseWorker: NewBase("audio", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		capturer:   capturer,
		flags:      flags,
	}
}

func (w *AudioWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{
		types.KindWakeDetected,
		types.KindIdentityObserved,
		types.KindSpeechFinished,
	}
}

func (w *AudioWorker) TickInterval() time.Duration { return audioTick }

func (w *AudioWorker) OnMessage(ctx context.Context, msg types.Message) error {
	switch msg.Kind {
	case types.KindWakeDetected:
		p, ok := msg.Payload.(types.WakeDetected)
		if !ok {
			return nil
		}
		logging.Audio("Wake phrase %q, opening mic", p.Text)
		return w.openWindow(p.OpenFor)
	case types.KindSpeechFinished:
		p, ok := msg.Payload.(types.SpeechState)
		if !ok || p.IsFiller {
			return nil
		}
		// The bot just said something real; hold the mic open so the human
		// can answer without re-waking it.
		return w.openWindow(w.cfg.GetOpenWindow())
	case types.KindIdentityObserved:
		if s, ok := msg.Payload.(types.IdentitySighting); ok {
			w.handleSighting(s)
		}
	}
	return nil
}

// OnTick runs one mic scheduling decision. Order matters: expire the window
// first, deliver a due greeting next, and only then block in a capture.
func (w *AudioWorker) OnTick(ctx context.Context) error {
	now := time.Now()

	if w.listening && now.After(w.openUntil) {
		if err := w.closeWindow(); err != nil {
			return err
		}
	}

	if w.greetPending && now.After(w.greetDueAt) {
		if w.flags.MicGated() {
			// Still speaking or moving; try again next tick.
			return nil
		}
		w.greetPending = false
		return w.greet()
	}
	if w.greetPending {
		return nil
	}

	if w.flags.MicGated() {
		return nil
	}

	if w.listening {
		return w.captureUtterance(ctx)
	}
	return w.probeWake(ctx)
}

// openWindow opens (or extends) the utterance capture window.
func (w *AudioWorker) openWindow(d time.Duration) error {
	if d <= 0 {
		d = w.cfg.GetOpenWindow()
	}
	w.openUntil = time.Now().Add(d)
	if w.listening {
		return nil
	}
	w.listening = true
	return w.Publish(types.KindListeningState, types.ListeningState{Active: true})
}

func (w *AudioWorker) closeWindow() error {
	w.listening = false
	return w.Publish(types.KindListeningState, types.ListeningState{Active: false})
}

// captureUtterance blocks until the person finishes a sentence or the
// capture bound expires. A fresh correlation id is minted here; every
// message derived from this utterance carries it verbatim.
func (w *AudioWorker) captureUtterance(ctx context.Context) error {
	ref, err := w.capturer.Capture(ctx, types.CaptureOpts{
		MaxDuration: w.cfg.GetCaptureMax(),
		MinOpen:     time.Second,
	})
	if err != nil {
		return fmt.Errorf("utterance capture failed: %w", err)
	}
	if ref == "" {
		// Nothing said yet; the window stays open until openUntil.
		return nil
	}

	w.lastHeardAt = time.Now()
	if err := w.closeWindow(); err != nil {
		return err
	}
	correlationID := types.NewCorrelationID()
	logging.Audio("Captured utterance %s [%s]", ref, correlationID)
	return w.PublishCorrelated(types.KindUtteranceCaptured, types.UtteranceCaptured{AudioRef: ref}, correlationID)
}

// probeWake listens briefly for the wake phrase and hands any recording to
// the transcription worker for matching.
func (w *AudioWorker) probeWake(ctx context.Context) error {
	ref, err := w.capturer.Capture(ctx, types.CaptureOpts{MaxDuration: w.cfg.GetWakeProbe()})
	if err != nil {
		return fmt.Errorf("wake probe failed: %w", err)
	}
	if ref == "" {
		return nil
	}
	return w.Publish(types.KindWakeCandidate, types.WakeCandidate{AudioRef: ref, CapturedAt: time.Now()})
}

// handleSighting schedules greetings: on a fresh appearance, when a face
// greeted anonymously becomes recognized (name upgrade), and when a present
// face has been silent past the re-greet interval.
func (w *AudioWorker) handleSighting(s types.IdentitySighting) {
	now := time.Now()
	appeared := now.Sub(w.lastSightingAt) > appearGap
	w.lastSightingAt = now
	w.presentName = s.DisplayName

	if !w.cfg.Audio.Greetings || w.listening {
		return
	}

	switch {
	case appeared:
		w.greetedName = ""
		w.scheduleGreet(now)
	case !w.greetPending && w.greetedName == "" && s.DisplayName != "" && !w.lastGreetAt.IsZero():
		w.scheduleGreet(now)
	case !w.greetPending && !w.lastGreetAt.IsZero() && now.Sub(w.quietSince()) > w.cfg.GetRegreetAfter():
		w.scheduleGreet(now)
	}
}

func (w *AudioWorker) scheduleGreet(now time.Time) {
	w.greetPending = true
	w.greetDueAt = now.Add(w.cfg.GetGreetingDelay())
}

// quietSince is the last moment anything conversational happened.
func (w *AudioWorker) quietSince() time.Time {
	if w.lastHeardAt.After(w.lastGreetAt) {
		return w.lastHeardAt
	}
	return w.lastGreetAt
}

func (w *AudioWorker) greet() error {
	text := "Hi there!"
	if w.presentName != "" {
		text = fmt.Sprintf("Hey %s!", w.presentName)
	}
	w.greetedName = w.presentName
	w.lastGreetAt = time.Now()
	logging.Audio("Greeting: %s", text)
	return w.Publish(types.KindSpeechRequested, types.SpeechRequest{Text: text})
}
