package state

import (
	"sync"
	"testing"
	"time"

	"botnerd/internal/types"
)

func TestMicGatedCombinesFlags(t *testing.T) {
	f := New()
	if f.MicGated() {
		t.Fatal("fresh store should not gate the mic")
	}

	f.Apply(types.NewMessage(types.KindSpeechStarted, "tts", types.SpeechState{Text: "hi"}))
	if !f.MicGated() {
		t.Error("speaking should gate the mic")
	}
	f.Apply(types.NewMessage(types.KindSpeechFinished, "tts", types.SpeechState{Text: "hi"}))
	if f.MicGated() {
		t.Error("speech_finished should release the gate")
	}

	f.Apply(types.NewMessage(types.KindMotionState, "motion", types.MotionState{Moving: true}))
	if !f.MicGated() {
		t.Error("moving should gate the mic")
	}
	f.Apply(types.NewMessage(types.KindMotionState, "motion", types.MotionState{Moving: false}))

	f.Apply(types.NewMessage(types.KindThinkingState, "agent", types.ThinkingState{Active: true}))
	if !f.MicGated() {
		t.Error("thinking should gate the mic")
	}
	f.Apply(types.NewMessage(types.KindThinkingState, "agent", types.ThinkingState{Active: false}))

	f.Apply(types.NewMessage(types.KindChimeState, "buzzer", types.ChimeState{Active: true}))
	if !f.MicGated() {
		t.Error("chime should gate the mic")
	}
	f.Apply(types.NewMessage(types.KindChimeState, "buzzer", types.ChimeState{Active: false}))

	f.SetMicMuted(true)
	if !f.MicGated() {
		t.Error("explicit mute should gate the mic")
	}
}

func TestApplyIgnoresUnrelatedKinds(t *testing.T) {
	f := New()
	f.Apply(types.NewMessage(types.KindDistanceReading, "ranging", types.DistanceReading{Meters: 0.5}))
	f.Apply(types.NewMessage(types.KindUtteranceTranscribed, "stt", types.UtteranceTranscribed{Text: "hello"}))

	snap := f.Snapshot()
	if snap.Speaking || snap.Moving || snap.Thinking || snap.ChimeActive || snap.MicMuted {
		t.Errorf("unrelated kinds must not flip flags: %+v", snap)
	}
}

func TestWakeDetectedRecordsTime(t *testing.T) {
	f := New()
	msg := types.NewMessage(types.KindWakeDetected, "stt", types.WakeDetected{Text: "hey bot", OpenFor: 10 * time.Second})
	f.Apply(msg)

	snap := f.Snapshot()
	if !snap.LastWakeAt.Equal(msg.CreatedAt) {
		t.Errorf("LastWakeAt=%v, want %v", snap.LastWakeAt, msg.CreatedAt)
	}
}

func TestConcurrentApplyAndRead(t *testing.T) {
	f := New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i%2 == 0 {
					f.Apply(types.NewMessage(types.KindMotionState, "motion", types.MotionState{Moving: j%2 == 0}))
				} else {
					_ = f.MicGated()
					_ = f.Snapshot()
				}
			}
		}(i)
	}
	wg.Wait()
}
