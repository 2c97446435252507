package types

import (
	"context"
	"time"
)

// Worker is the lifecycle contract every concrete worker implements. The
// coordination core knows nothing about cameras or motors; it only drives
// this contract.
type Worker interface {
	// Name returns the unique worker name.
	Name() string
	// AcceptedKinds declares the kinds the worker reacts to. It is a
	// fast-path filter only; a worker may always ignore a delivered message.
	AcceptedKinds() []Kind
	// OnStart acquires the worker's resources. Bounded by the manager's
	// start timeout via ctx.
	OnStart(ctx context.Context) error
	// OnMessage reacts to one delivered message inside the worker's own
	// goroutine. A returned error is a handled failure (logged, published
	// as worker_fault, loop continues); a panic crashes the worker.
	OnMessage(ctx context.Context, msg Message) error
	// OnStop releases resources on every exit path, including a partially
	// successful OnStart.
	OnStop() error
}

// Publisher is the bus surface workers and the gate publish through.
type Publisher interface {
	Publish(msg Message) error
}

// LLMClient defines the interface for language model calls made by the
// dialogue worker.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Ping verifies the inference service is reachable. Used as the
	// manager's readiness precondition before the dialogue worker starts.
	Ping(ctx context.Context) error
	Name() string
}

// =============================================================================
// COLLABORATOR BOUNDARIES
// =============================================================================
// Thin interfaces over the hardware- and model-facing collaborators. Drivers
// and inference services live behind them; the core never imports a device
// library. Simulated implementations exist for every interface.

// Observation is one recognizer result for a single frame.
type Observation struct {
	IdentityID  string
	DisplayName string
	Confidence  float64
	BBox        [4]int
}

// Recognizer is the vision collaborator.
type Recognizer interface {
	// Observe returns the best sighting for the current frame, or nil when
	// no face is visible.
	Observe(ctx context.Context) (*Observation, error)
	// Sample captures one face embedding for enrollment.
	Sample(ctx context.Context) ([]float32, error)
}

// CaptureOpts bounds one microphone window.
type CaptureOpts struct {
	MaxDuration time.Duration
	MinOpen     time.Duration
}

// Capturer is the audio capture collaborator. Capture blocks until
// voice-activity detection judges an utterance complete (or ctx ends) and
// returns an opaque audio ref, empty when nothing was captured.
type Capturer interface {
	Capture(ctx context.Context, opts CaptureOpts) (string, error)
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// Speaker is the text-to-speech collaborator. Prime pre-generates audio for
// phrases that are spoken often (fillers, greetings).
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Prime(ctx context.Context, phrases []string) error
}

// MotionDriver is the wheels-and-head actuator collaborator. Release must be
// safe to call after a partial acquisition.
type MotionDriver interface {
	Drive(verb string) error
	Stop() error
	// Pan moves the stepper head: -1 left, 0 center, +1 right.
	Pan(side int) error
	Release() error
}

// RangeSensor is the ultrasonic ranging collaborator.
type RangeSensor interface {
	Read(ctx context.Context) (meters float64, err error)
}

// Renderer is the display collaborator.
type Renderer interface {
	Render(emotion Emotion, subtitle string) error
	Close() error
}

// Beeper is the buzzer collaborator. Pattern names are defined by the buzzer
// worker ("proximity", "chime").
type Beeper interface {
	Beep(pattern string) error
}

// Emotion is the face shown on the display. Derived by the display worker
// from recent bus traffic, never stored.
type Emotion string

const (
	EmotionGreeting   Emotion = "greeting"
	EmotionHappy      Emotion = "happy"
	EmotionSuspicious Emotion = "suspicious"
	EmotionLonely     Emotion = "lonely"
	EmotionStuck      Emotion = "stuck"
	EmotionAngry      Emotion = "angry"
)
