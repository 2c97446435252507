package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botnerd/internal/bus"
	"botnerd/internal/config"
	"botnerd/internal/state"
	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

// pipeline assembles a real bus, an in-memory store, the gate and a chosen
// set of workers, the way `bot run --sim` wires them.
type pipeline struct {
	t         *testing.T
	cfg       *config.Config
	bus       *bus.Bus
	mgr       *Manager
	st        *store.Store
	gate      *trust.Gate
	registrar *trust.Registrar
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Audio.WakeProbe = "50ms"
	cfg.Audio.CaptureMax = "200ms"
	cfg.Audio.GreetingDelay = "50ms"

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := bus.New(cfg.GetPublishTimeout())
	return &pipeline{
		t:         t,
		cfg:       cfg,
		bus:       b,
		mgr:       NewManager(cfg, b),
		st:        st,
		gate:      trust.NewGate(trust.NewPolicyKernel(), st.Trust(), cfg, b),
		registrar: trust.NewRegistrar(st.Trust()),
	}
}

func (p *pipeline) seedTrust(id, name string, level types.TrustLevel) {
	p.t.Helper()
	require.NoError(p.t, p.st.Trust().Upsert(types.TrustRecord{
		IdentityID:   id,
		DisplayName:  name,
		Level:        level,
		RegisteredBy: "owner-cli",
	}))
}

func (p *pipeline) start() {
	p.t.Helper()
	report, err := p.mgr.StartAll(context.Background())
	require.NoError(p.t, err)
	require.True(p.t, report.AllStarted(), "unexpected failures: %v", report.Failed)
	p.t.Cleanup(func() { p.mgr.StopAll(2 * time.Second) })
}

// see puts an identity in front of the dialogue worker.
func (p *pipeline) see(id, name string, level types.TrustLevel) {
	p.t.Helper()
	s := types.IdentitySighting{IdentityID: id, DisplayName: name, Trust: level, Confidence: 0.93}
	require.NoError(p.t, p.bus.Publish(types.NewMessage(types.KindIdentityObserved, "test-vision", s)))
}

// hear hands the dialogue worker a finished transcription.
func (p *pipeline) hear(text, correlationID string) {
	p.t.Helper()
	msg := types.NewCorrelated(types.KindUtteranceTranscribed, "test-stt", types.UtteranceTranscribed{Text: text}, correlationID)
	require.NoError(p.t, p.bus.Publish(msg))
}

// busTap is a plain attached inbox recording everything the bus carries.
type busTap struct {
	ch   chan types.Message
	mu   sync.Mutex
	seen []types.Message
}

func newBusTap(t *testing.T, b *bus.Bus) *busTap {
	tap := &busTap{ch: make(chan types.Message, 512)}
	require.NoError(t, b.Attach("test-tap", tap.ch))
	t.Cleanup(func() { b.Detach("test-tap") })
	return tap
}

// await pumps the tap until a message of the kind passes the filter (nil
// matches any) or the timeout expires. Everything read stays recorded.
func (tap *busTap) await(t *testing.T, kind types.Kind, timeout time.Duration, filter func(types.Message) bool) types.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-tap.ch:
			tap.mu.Lock()
			tap.seen = append(tap.seen, msg)
			tap.mu.Unlock()
			if msg.Kind == kind && (filter == nil || filter(msg)) {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message within %v", kind, timeout)
			return types.Message{}
		}
	}
}

// pump drains whatever has already arrived, without waiting.
func (tap *busTap) pump() {
	for {
		select {
		case msg := <-tap.ch:
			tap.mu.Lock()
			tap.seen = append(tap.seen, msg)
			tap.mu.Unlock()
		default:
			return
		}
	}
}

// ofKind returns every recorded message of one kind.
func (tap *busTap) ofKind(kind types.Kind) []types.Message {
	tap.mu.Lock()
	defer tap.mu.Unlock()
	var out []types.Message
	for _, msg := range tap.seen {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// A guest's spoken admin request is denied end to end: the denial is
// published and spoken, and nothing about the trust state changes.
func TestGuestAdminRequestIsDeniedAndInert(t *testing.T) {
	p := newPipeline(t)
	p.seedTrust("gary", "Gary", types.TrustGuest)

	p.mgr.Add(NewAgentWorker(p.cfg, p.bus, nil, p.gate, p.registrar, p.st.Trust()))
	tap := newBusTap(t, p.bus)
	p.start()

	before, err := p.st.Trust().Count()
	require.NoError(t, err)

	p.see("gary", "Gary", types.TrustGuest)
	p.hear("register me as bobby", "corr-reg")

	denied := tap.await(t, types.KindCommandDenied, 2*time.Second, nil)
	payload := denied.Payload.(types.CommandDenied)
	assert.Equal(t, "gary", payload.IdentityID)
	assert.Equal(t, types.RiskAdmin, payload.Risk)
	assert.Equal(t, "corr-reg", denied.CorrelationID)

	said := tap.await(t, types.KindSpeechRequested, 2*time.Second, nil)
	assert.Equal(t, "Sorry, only the owner can change who I trust.", said.Payload.(types.SpeechRequest).Text)

	// No countdown, no enrollment, no trust mutation.
	tap.pump()
	assert.Empty(t, tap.ofKind(types.KindChimeRequested))
	assert.Empty(t, tap.ofKind(types.KindRegisterRequested))

	after, err := p.st.Trust().Count()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, types.TrustUnknown, p.st.Trust().Lookup("bobby"))
}

// The owner's spoken promotion flows through the gate and lands in the
// trust store.
func TestOwnerPromotionAppliesEndToEnd(t *testing.T) {
	p := newPipeline(t)
	p.seedTrust("marta", "Marta", types.TrustOwner)
	p.seedTrust("gary", "Gary", types.TrustGuest)

	p.mgr.Add(NewAgentWorker(p.cfg, p.bus, nil, p.gate, p.registrar, p.st.Trust()))
	tap := newBusTap(t, p.bus)
	p.start()

	p.see("marta", "Marta", types.TrustOwner)
	p.hear("promote gary to known", "corr-promote")

	approved := tap.await(t, types.KindCommandRequested, 2*time.Second, nil)
	cmd := approved.Payload.(types.Command)
	assert.Equal(t, types.RiskAdmin, cmd.Risk)
	assert.True(t, cmd.Approved)

	said := tap.await(t, types.KindSpeechRequested, 2*time.Second, nil)
	assert.Equal(t, "Done. Gary is now known.", said.Payload.(types.SpeechRequest).Text)

	assert.Equal(t, types.TrustKnown, p.st.Trust().Lookup("gary"))
}

// Ranging always primes the gate before consumers see the same reading, so
// a motion command in a boxed-in scene is vetoed even for the owner and the
// wheels never move. Backing the obstacle away lets the same command flow.
func TestInterlockVetoesOwnerMotionEndToEnd(t *testing.T) {
	p := newPipeline(t)
	p.seedTrust("marta", "Marta", types.TrustOwner)

	sensor := NewSimRangeSensor(0.05)
	driver := NewSimDriver()
	p.mgr.Add(NewRangingWorker(p.cfg, p.bus, sensor, p.gate))
	p.mgr.Add(NewAgentWorker(p.cfg, p.bus, nil, p.gate, p.registrar, p.st.Trust()))
	p.mgr.Add(NewMotionWorker(p.cfg, p.bus, driver))
	tap := newBusTap(t, p.bus)
	p.start()

	// Once a reading reaches consumers the gate has seen it too.
	tap.await(t, types.KindDistanceReading, 2*time.Second, nil)

	p.see("marta", "Marta", types.TrustOwner)
	p.hear("go forward", "corr-veto")

	denied := tap.await(t, types.KindCommandDenied, 2*time.Second, nil)
	payload := denied.Payload.(types.CommandDenied)
	assert.Equal(t, "marta", payload.IdentityID)
	assert.Equal(t, types.RiskMotion, payload.Risk)
	assert.Contains(t, payload.Reason, "interlock")
	assert.Equal(t, "corr-veto", denied.CorrelationID)

	said := tap.await(t, types.KindSpeechRequested, 2*time.Second, nil)
	assert.Contains(t, said.Payload.(types.SpeechRequest).Text, "too close")

	assert.Empty(t, driver.Calls(), "the wheels must not have moved")
	assert.Empty(t, tap.ofKind(types.KindCommandRequested))

	// Clear the scene; the same command now reaches the wheels.
	sensor.Set(1.2)
	tap.await(t, types.KindDistanceReading, 2*time.Second, func(msg types.Message) bool {
		return msg.Payload.(types.DistanceReading).Meters > 1.0
	})
	p.hear("go forward", "corr-clear")

	approved := tap.await(t, types.KindCommandRequested, 2*time.Second, nil)
	cmd := approved.Payload.(types.Command)
	assert.True(t, cmd.Approved)
	assert.Equal(t, types.VerbForward, cmd.Verb)
	assert.Equal(t, "corr-clear", approved.CorrelationID)

	require.Eventually(t, func() bool {
		for _, c := range driver.Calls() {
			if c == "drive:forward" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// One utterance's correlation id survives the whole trip: the capture mints
// it, and the transcription, the reply and the speech bracket carry it
// verbatim.
func TestCorrelationIDFlowsAcrossPipeline(t *testing.T) {
	p := newPipeline(t)

	capturer := NewSimCapturer()
	transcriber := NewSimTranscriber()
	speaker := NewSimSpeaker()
	p.mgr.Add(NewAudioWorker(p.cfg, p.bus, capturer, state.New()))
	p.mgr.Add(NewSTTWorker(p.cfg, p.bus, transcriber))
	p.mgr.Add(NewAgentWorker(p.cfg, p.bus, nil, p.gate, p.registrar, p.st.Trust()))
	p.mgr.Add(NewTTSWorker(p.cfg, p.bus, speaker))
	tap := newBusTap(t, p.bus)
	p.start()

	transcriber.Script("u1", "hello there")
	require.NoError(t, p.bus.Publish(types.NewMessage(types.KindWakeDetected, "test-stt",
		types.WakeDetected{Text: "hey bot", OpenFor: 10 * time.Second})))
	capturer.Say("u1")

	captured := tap.await(t, types.KindUtteranceCaptured, 3*time.Second, nil)
	correlationID := captured.CorrelationID
	require.NotEmpty(t, correlationID, "capture must mint a correlation id")

	transcribed := tap.await(t, types.KindUtteranceTranscribed, 2*time.Second, nil)
	assert.Equal(t, correlationID, transcribed.CorrelationID)
	assert.Equal(t, "hello there", transcribed.Payload.(types.UtteranceTranscribed).Text)

	reply := tap.await(t, types.KindSpeechRequested, 2*time.Second, nil)
	assert.Equal(t, correlationID, reply.CorrelationID)
	assert.Equal(t, "Hello!", reply.Payload.(types.SpeechRequest).Text)

	begun := tap.await(t, types.KindSpeechStarted, 2*time.Second, nil)
	assert.Equal(t, correlationID, begun.CorrelationID)
	done := tap.await(t, types.KindSpeechFinished, 2*time.Second, nil)
	assert.Equal(t, correlationID, done.CorrelationID)

	require.Eventually(t, func() bool {
		for _, s := range speaker.Spoken() {
			if s == "Hello!" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// A stable recognition lands on the identity's trust record: the published
// sighting carries the stored level and last_seen_at moves off zero.
func TestStableSightingUpdatesLastSeen(t *testing.T) {
	p := newPipeline(t)
	p.seedTrust("alice", "Alice", types.TrustKnown)

	recognizer := NewSimRecognizer()
	recognizer.Place(&types.Observation{IdentityID: "alice", DisplayName: "Alice", Confidence: 0.91})
	p.mgr.Add(NewVisionWorker(p.cfg, p.bus, recognizer, p.st.Faces(), p.st.Trust()))
	tap := newBusTap(t, p.bus)
	p.start()

	seen := tap.await(t, types.KindIdentityObserved, 3*time.Second, nil)
	sighting := seen.Payload.(types.IdentitySighting)
	assert.Equal(t, "alice", sighting.IdentityID)
	assert.Equal(t, types.TrustKnown, sighting.Trust)

	require.Eventually(t, func() bool {
		rec, ok := p.st.Trust().Get("alice")
		return ok && !rec.LastSeenAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond, "recognition should persist last_seen_at")
}

// The full spoken registration: the owner asks, the chime counts down, the
// camera enrolls, the trust record lands, and the next sighting carries the
// new name.
func TestSpokenRegistrationEndToEnd(t *testing.T) {
	p := newPipeline(t)
	p.seedTrust("marta", "Marta", types.TrustOwner)
	p.cfg.Agent.RegisterCountdown = 1
	p.cfg.Vision.EnrollSamples = 2

	recognizer := NewSimRecognizer()
	recognizer.SetSample([]float32{0.2, 0.4, 0.1})
	beeper := NewSimBeeper()
	p.mgr.Add(NewVisionWorker(p.cfg, p.bus, recognizer, p.st.Faces(), p.st.Trust()))
	p.mgr.Add(NewAgentWorker(p.cfg, p.bus, nil, p.gate, p.registrar, p.st.Trust()))
	p.mgr.Add(NewBuzzerWorker(p.cfg, p.bus, beeper))
	tap := newBusTap(t, p.bus)
	p.start()

	p.see("marta", "Marta", types.TrustOwner)
	p.hear("register me as nora", "corr-enroll")

	// The gate admits the admin command and the countdown starts.
	approved := tap.await(t, types.KindCommandRequested, 2*time.Second, nil)
	assert.Equal(t, types.RiskAdmin, approved.Payload.(types.Command).Risk)
	chime := tap.await(t, types.KindChimeRequested, 2*time.Second, nil)
	assert.Equal(t, "corr-enroll", chime.CorrelationID)

	// Enrollment runs against the simulated camera.
	request := tap.await(t, types.KindRegisterRequested, 5*time.Second, nil)
	assert.Equal(t, "Nora", request.Payload.(types.RegisterRequest).Name)
	result := tap.await(t, types.KindRegisterResult, 10*time.Second, nil)
	payload := result.Payload.(types.RegisterResult)
	require.True(t, payload.OK, "enrollment failed: %s", payload.Err)
	assert.Equal(t, 2, payload.Samples)
	assert.Equal(t, "corr-enroll", result.CorrelationID)

	// The trust record was written by the agent with the owner as sponsor.
	require.Eventually(t, func() bool {
		return p.st.Trust().Lookup("nora") == types.TrustGuest
	}, 2*time.Second, 10*time.Millisecond)
	rec, ok := p.st.Trust().Get("nora")
	require.True(t, ok)
	assert.Equal(t, "Nora", rec.DisplayName)
	assert.Equal(t, "marta", rec.RegisteredBy)

	// The stored face matches the enrolled embedding.
	match, ok := p.st.Faces().Match([]float32{0.2, 0.4, 0.1}, p.cfg.Vision.MatchThreshold)
	require.True(t, ok, "enrolled face should match its own embedding")
	assert.Equal(t, "nora", match.IdentityID)

	said := tap.await(t, types.KindSpeechRequested, 2*time.Second, func(msg types.Message) bool {
		return msg.Payload.(types.SpeechRequest).Text == "Nice to meet you, Nora! I'll remember your face."
	})
	assert.Equal(t, "corr-enroll", said.CorrelationID)
}
