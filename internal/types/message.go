// Package types provides shared type definitions used across botnerd packages.
// This package exists to break import cycles between bus, workers, and trust.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MESSAGE KINDS
// =============================================================================

// Kind tags a Message with its payload schema. The set of kinds is closed:
// every kind maps to exactly one payload type (see ValidatePayload).
type Kind string

const (
	// Sensor and perception streams (lossy, high frequency).
	KindDistanceReading  Kind = "distance_reading"
	KindIdentityObserved Kind = "identity_observed"

	// Speech pipeline.
	KindUtteranceCaptured    Kind = "utterance_captured"
	KindWakeCandidate        Kind = "wake_candidate"
	KindWakeDetected         Kind = "wake_detected"
	KindUtteranceTranscribed Kind = "utterance_transcribed"
	KindSpeechRequested      Kind = "speech_requested"
	KindSpeechStarted        Kind = "speech_started"
	KindSpeechFinished       Kind = "speech_finished"

	// Gated command path.
	KindCommandRequested  Kind = "command_requested"
	KindCommandDenied     Kind = "command_denied"
	KindRegisterRequested Kind = "register_requested"
	KindRegisterResult    Kind = "register_result"

	// Actuator and worker state streams.
	KindChimeRequested Kind = "chime_requested"
	KindChimeState     Kind = "chime_state"
	KindMotionState    Kind = "motion_state"
	KindListeningState Kind = "listening_state"
	KindThinkingState  Kind = "thinking_state"
	KindWorkerFault    Kind = "worker_fault"
)

// AllKinds returns every kind in the closed set.
func AllKinds() []Kind {
	return []Kind{
		KindDistanceReading, KindIdentityObserved,
		KindUtteranceCaptured, KindWakeCandidate, KindWakeDetected,
		KindUtteranceTranscribed, KindSpeechRequested, KindSpeechStarted,
		KindSpeechFinished, KindCommandRequested, KindCommandDenied,
		KindRegisterRequested, KindRegisterResult, KindChimeRequested,
		KindChimeState, KindMotionState, KindListeningState,
		KindThinkingState, KindWorkerFault,
	}
}

// Lossy reports whether a kind belongs to the high-frequency sensor/state
// class where the bus drops the oldest pending message on a full inbox.
// Non-lossy kinds block the publisher briefly and surface BusOverflowError
// on timeout.
func (k Kind) Lossy() bool {
	switch k {
	case KindDistanceReading, KindIdentityObserved, KindWakeCandidate,
		KindChimeState, KindMotionState, KindListeningState, KindThinkingState:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is an immutable typed event exchanged on the bus. Kind determines
// the concrete type of Payload. Seq is assigned by the bus at publish time
// and is strictly increasing process-wide.
type Message struct {
	Kind          Kind
	Payload       interface{}
	Source        string
	CreatedAt     time.Time
	CorrelationID string
	Seq           uint64
}

// NewMessage builds a message with no correlation id. Use it for events that
// are not part of a request/response exchange.
func NewMessage(kind Kind, source string, payload interface{}) Message {
	return Message{
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		CreatedAt: time.Now(),
	}
}

// NewCorrelated builds a message carrying an existing correlation id, so a
// response can be matched to the request that produced it.
func NewCorrelated(kind Kind, source string, payload interface{}, correlationID string) Message {
	m := NewMessage(kind, source, payload)
	m.CorrelationID = correlationID
	return m
}

// NewCorrelationID mints an opaque correlation token. Minted once at the
// start of an exchange (utterance capture, CLI ask) and carried verbatim
// through every derived message.
func NewCorrelationID() string {
	return uuid.NewString()
}

// ValidatePayload checks that the payload's concrete type matches the
// message kind. The mapping is total: a kind outside the closed set is an
// error, as is a payload of the wrong shape.
func ValidatePayload(m Message) error {
	ok := false
	switch m.Kind {
	case KindDistanceReading:
		_, ok = m.Payload.(DistanceReading)
	case KindIdentityObserved:
		_, ok = m.Payload.(IdentitySighting)
	case KindUtteranceCaptured:
		_, ok = m.Payload.(UtteranceCaptured)
	case KindWakeCandidate:
		_, ok = m.Payload.(WakeCandidate)
	case KindWakeDetected:
		_, ok = m.Payload.(WakeDetected)
	case KindUtteranceTranscribed:
		_, ok = m.Payload.(UtteranceTranscribed)
	case KindSpeechRequested:
		_, ok = m.Payload.(SpeechRequest)
	case KindSpeechStarted, KindSpeechFinished:
		_, ok = m.Payload.(SpeechState)
	case KindCommandRequested:
		_, ok = m.Payload.(Command)
	case KindCommandDenied:
		_, ok = m.Payload.(CommandDenied)
	case KindRegisterRequested:
		_, ok = m.Payload.(RegisterRequest)
	case KindRegisterResult:
		_, ok = m.Payload.(RegisterResult)
	case KindChimeRequested:
		_, ok = m.Payload.(ChimeRequest)
	case KindChimeState:
		_, ok = m.Payload.(ChimeState)
	case KindMotionState:
		_, ok = m.Payload.(MotionState)
	case KindListeningState:
		_, ok = m.Payload.(ListeningState)
	case KindThinkingState:
		_, ok = m.Payload.(ThinkingState)
	case KindWorkerFault:
		_, ok = m.Payload.(WorkerFault)
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if !ok {
		return fmt.Errorf("payload type %T does not match kind %q", m.Payload, m.Kind)
	}
	return nil
}
