package types

import (
	"strings"
	"testing"
)

func TestValidatePayloadCoversEveryKind(t *testing.T) {
	samples := map[Kind]interface{}{
		KindDistanceReading:      DistanceReading{Meters: 0.4},
		KindIdentityObserved:     IdentitySighting{IdentityID: "id-1", Trust: TrustGuest},
		KindUtteranceCaptured:    UtteranceCaptured{AudioRef: "/tmp/u.wav"},
		KindWakeCandidate:        WakeCandidate{AudioRef: "/tmp/w.wav"},
		KindWakeDetected:         WakeDetected{Text: "hey bot"},
		KindUtteranceTranscribed: UtteranceTranscribed{Text: "go forward"},
		KindSpeechRequested:      SpeechRequest{Text: "ok"},
		KindSpeechStarted:        SpeechState{Text: "ok"},
		KindSpeechFinished:       SpeechState{Text: "ok"},
		KindCommandRequested:     Command{Risk: RiskMotion, Verb: VerbForward},
		KindCommandDenied:        CommandDenied{IdentityID: "id-1", Risk: RiskAdmin},
		KindRegisterRequested:    RegisterRequest{Name: "amy", Level: TrustGuest},
		KindRegisterResult:       RegisterResult{OK: true, Name: "amy"},
		KindChimeRequested:       ChimeRequest{Steps: 3},
		KindChimeState:           ChimeState{Active: true},
		KindMotionState:          MotionState{Moving: true},
		KindListeningState:       ListeningState{Active: true},
		KindThinkingState:        ThinkingState{Active: true},
		KindWorkerFault:          WorkerFault{Worker: "vision", Err: "camera gone"},
	}

	for _, kind := range AllKinds() {
		payload, ok := samples[kind]
		if !ok {
			t.Fatalf("no sample payload for kind %q", kind)
		}
		msg := NewMessage(kind, "test", payload)
		if err := ValidatePayload(msg); err != nil {
			t.Errorf("kind %q rejected its own payload: %v", kind, err)
		}
	}
	if len(samples) != len(AllKinds()) {
		t.Errorf("sample table has %d kinds, AllKinds has %d", len(samples), len(AllKinds()))
	}
}

func TestValidatePayloadRejectsMismatch(t *testing.T) {
	msg := NewMessage(KindDistanceReading, "test", SpeechRequest{Text: "nope"})
	if err := ValidatePayload(msg); err == nil {
		t.Fatal("expected mismatched payload to be rejected")
	}

	msg = NewMessage(Kind("made_up"), "test", DistanceReading{})
	err := ValidatePayload(msg)
	if err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
	if !strings.Contains(err.Error(), "unknown message kind") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewCorrelatedCarriesID(t *testing.T) {
	id := NewCorrelationID()
	if id == "" {
		t.Fatal("expected non-empty correlation id")
	}
	msg := NewCorrelated(KindUtteranceTranscribed, "stt", UtteranceTranscribed{Text: "hi"}, id)
	if msg.CorrelationID != id {
		t.Errorf("correlation id not carried: got %q want %q", msg.CorrelationID, id)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestTrustLevelOrderingAndParse(t *testing.T) {
	if !(TrustUnknown < TrustGuest && TrustGuest < TrustKnown && TrustKnown < TrustOwner) {
		t.Fatal("trust levels out of order")
	}

	cases := map[string]TrustLevel{
		"unknown": TrustUnknown,
		"guest":   TrustGuest,
		"known":   TrustKnown,
		"friend":  TrustKnown,
		"OWNER":   TrustOwner,
		" owner ": TrustOwner,
	}
	for in, want := range cases {
		got, err := ParseTrustLevel(in)
		if err != nil {
			t.Errorf("ParseTrustLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTrustLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTrustLevel("superuser"); err == nil {
		t.Error("expected error for unknown level name")
	}
}

func TestKindLossyClassesAreDocumentedOnes(t *testing.T) {
	lossy := map[Kind]bool{
		KindDistanceReading:  true,
		KindIdentityObserved: true,
		KindWakeCandidate:    true,
		KindChimeState:       true,
		KindMotionState:      true,
		KindListeningState:   true,
		KindThinkingState:    true,
	}
	for _, kind := range AllKinds() {
		if kind.Lossy() != lossy[kind] {
			t.Errorf("kind %q lossy = %v, want %v", kind, kind.Lossy(), lossy[kind])
		}
	}
}

func TestDefaultRequiredTrustTotalOverRiskClasses(t *testing.T) {
	table := DefaultRequiredTrust()
	for _, risk := range AllRiskClasses() {
		level, ok := table[risk]
		if !ok {
			t.Errorf("no required trust for risk %q", risk)
		}
		if !level.Valid() {
			t.Errorf("invalid trust level %d for risk %q", level, risk)
		}
	}
	if table[RiskAdmin] != TrustOwner {
		t.Errorf("admin must require owner, got %v", table[RiskAdmin])
	}
}
