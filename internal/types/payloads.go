package types

import "time"

// =============================================================================
// PAYLOAD TYPES
// =============================================================================
// One struct per message kind. Payloads are value types: a consumer can hold
// one without sharing memory with the publisher.

// DistanceReading is a single ranging sample in meters.
type DistanceReading struct {
	Meters float64
}

// IdentitySighting reports a recognized (or unknown) face. IdentityID is
// empty for an unknown face; Trust is the store's level at observation time
// so consumers can render it without a store round-trip. Consumers must not
// cache Trust across registration events.
type IdentitySighting struct {
	IdentityID  string
	DisplayName string
	Trust       TrustLevel
	Confidence  float64
	BBox        [4]int
}

// Unknown reports whether the sighting matched no registered identity.
func (s IdentitySighting) Unknown() bool { return s.IdentityID == "" }

// UtteranceCaptured points at a finished voice recording. AudioRef is an
// opaque handle owned by the audio collaborator (typically a wav path).
type UtteranceCaptured struct {
	AudioRef string
}

// WakeCandidate is a short probe recording that may contain the wake phrase.
type WakeCandidate struct {
	AudioRef   string
	CapturedAt time.Time
}

// WakeDetected tells the audio worker to open the microphone for OpenFor.
type WakeDetected struct {
	Text    string
	OpenFor time.Duration
}

// UtteranceTranscribed is the text of a captured utterance.
type UtteranceTranscribed struct {
	Text string
}

// SpeechRequest asks the speech worker to say Text. IsFiller marks the short
// acknowledgement phrases spoken while the agent is thinking.
type SpeechRequest struct {
	Text     string
	IsFiller bool
}

// SpeechState brackets playback (speech_started / speech_finished).
type SpeechState struct {
	Text     string
	IsFiller bool
}

// CommandDenied is the gate's public denial record. Published for every
// denied command so display/buzzer can give feedback; denial is never silent.
type CommandDenied struct {
	IdentityID string
	Risk       RiskClass
	Verb       string
	Reason     string
}

// RegisterRequest asks the vision worker to enroll a face under Name at
// Level. Only published after the gate admits the admin command.
type RegisterRequest struct {
	Name  string
	Level TrustLevel
}

// RegisterResult reports the outcome of an enrollment.
type RegisterResult struct {
	OK      bool
	Name    string
	Level   TrustLevel
	Samples int
	Err     string
}

// ChimeRequest asks the buzzer for a countdown of Steps beeps.
type ChimeRequest struct {
	Steps    int
	Interval time.Duration
}

// ChimeState reports whether the buzzer is currently sounding.
type ChimeState struct {
	Active bool
}

// MotionState reports whether the platform is currently moving.
type MotionState struct {
	Moving bool
}

// ListeningState reports whether the microphone window is open.
type ListeningState struct {
	Active bool
}

// ThinkingState reports whether the agent is waiting on the language model.
type ThinkingState struct {
	Active bool
}

// WorkerFault is a handled failure inside a worker's processing loop. The
// worker keeps running; the fault is observable (display turns angry).
type WorkerFault struct {
	Worker string
	Err    string
}
