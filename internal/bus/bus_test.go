package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"botnerd/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(inbox chan types.Message) []types.Message {
	var out []types.Message
	for {
		select {
		case msg := <-inbox:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Every consumer must observe one publisher's messages in publish order,
// even with several publishers interleaving.
func TestFIFOPerPublisherAcrossConsumers(t *testing.T) {
	const publishers = 4
	const perPublisher = 200

	b := New(250 * time.Millisecond)

	inboxA := make(chan types.Message, publishers*perPublisher)
	inboxB := make(chan types.Message, publishers*perPublisher)
	require.NoError(t, b.Attach("consumer-a", inboxA))
	require.NoError(t, b.Attach("consumer-b", inboxB))

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			source := fmt.Sprintf("pub-%d", p)
			for j := 0; j < perPublisher; j++ {
				msg := types.NewMessage(types.KindUtteranceTranscribed, source,
					types.UtteranceTranscribed{Text: fmt.Sprintf("%d", j)})
				if err := b.Publish(msg); err != nil {
					t.Errorf("publish failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	for name, inbox := range map[string]chan types.Message{"a": inboxA, "b": inboxB} {
		got := drain(inbox)
		if len(got) != publishers*perPublisher {
			t.Fatalf("consumer %s received %d messages, want %d", name, len(got), publishers*perPublisher)
		}

		// Per-publisher subsequences must be strictly in publish order.
		next := make(map[string]int)
		for _, msg := range got {
			want := fmt.Sprintf("%d", next[msg.Source])
			text := msg.Payload.(types.UtteranceTranscribed).Text
			if text != want {
				t.Fatalf("consumer %s: publisher %s out of order: got %s want %s", name, msg.Source, text, want)
			}
			next[msg.Source]++
		}
	}
}

// A worker that stopped draining its inbox must not block or fail publishes
// for everyone else.
func TestStuckWorkerDoesNotAffectOthers(t *testing.T) {
	b := New(50 * time.Millisecond)

	stuck := make(chan types.Message, 1)
	healthy := make(chan types.Message, 16)
	require.NoError(t, b.Attach("stuck", stuck))
	require.NoError(t, b.Attach("healthy", healthy))

	first := types.NewMessage(types.KindSpeechRequested, "agent", types.SpeechRequest{Text: "one"})
	require.NoError(t, b.Publish(first))

	// stuck's inbox is now full and nobody drains it.
	second := types.NewMessage(types.KindSpeechRequested, "agent", types.SpeechRequest{Text: "two"})
	start := time.Now()
	err := b.Publish(second)
	elapsed := time.Since(start)

	var overflow *types.BusOverflowError
	require.True(t, errors.As(err, &overflow), "expected BusOverflowError, got %v", err)
	assert.Equal(t, "stuck", overflow.Worker)
	assert.Equal(t, types.KindSpeechRequested, overflow.Kind)

	// The healthy consumer still received both messages.
	got := drain(healthy)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Payload.(types.SpeechRequest).Text)
	assert.Equal(t, "two", got[1].Payload.(types.SpeechRequest).Text)

	// The wait is bounded by the publish timeout, not unbounded.
	assert.Less(t, elapsed, 500*time.Millisecond, "publish blocked too long: %v", elapsed)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Overflows[types.KindSpeechRequested])
}

// Lossy kinds evict the oldest reading instead of reporting overflow.
func TestLossyKindDropsOldest(t *testing.T) {
	b := New(250 * time.Millisecond)

	inbox := make(chan types.Message, 2)
	require.NoError(t, b.Attach("slow", inbox))

	for i := 0; i < 5; i++ {
		msg := types.NewMessage(types.KindDistanceReading, "ranging",
			types.DistanceReading{Meters: float64(i)})
		require.NoError(t, b.Publish(msg), "lossy publish must never error")
	}

	got := drain(inbox)
	require.Len(t, got, 2)
	// The two newest readings survive.
	assert.Equal(t, 3.0, got[0].Payload.(types.DistanceReading).Meters)
	assert.Equal(t, 4.0, got[1].Payload.(types.DistanceReading).Meters)

	stats := b.Stats()
	assert.Equal(t, uint64(5), stats.Published[types.KindDistanceReading])
	assert.Equal(t, uint64(3), stats.Dropped[types.KindDistanceReading])
}

// Attaching after a publish must not deliver history.
func TestNoReplayForLateAttach(t *testing.T) {
	b := New(250 * time.Millisecond)

	early := make(chan types.Message, 8)
	require.NoError(t, b.Attach("early", early))

	require.NoError(t, b.Publish(types.NewMessage(types.KindSpeechRequested, "agent",
		types.SpeechRequest{Text: "before"})))

	late := make(chan types.Message, 8)
	require.NoError(t, b.Attach("late", late))

	require.NoError(t, b.Publish(types.NewMessage(types.KindSpeechRequested, "agent",
		types.SpeechRequest{Text: "after"})))

	earlyGot := drain(early)
	lateGot := drain(late)
	require.Len(t, earlyGot, 2)
	require.Len(t, lateGot, 1)
	assert.Equal(t, "after", lateGot[0].Payload.(types.SpeechRequest).Text)
}

func TestDetachStopsDelivery(t *testing.T) {
	b := New(250 * time.Millisecond)

	inbox := make(chan types.Message, 8)
	require.NoError(t, b.Attach("w", inbox))
	require.NoError(t, b.Publish(types.NewMessage(types.KindSpeechRequested, "agent",
		types.SpeechRequest{Text: "first"})))

	b.Detach("w")
	require.NoError(t, b.Publish(types.NewMessage(types.KindSpeechRequested, "agent",
		types.SpeechRequest{Text: "second"})))

	got := drain(inbox)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Payload.(types.SpeechRequest).Text)
	assert.Empty(t, b.Attached())
}

func TestDuplicateAttachRejected(t *testing.T) {
	b := New(250 * time.Millisecond)

	require.NoError(t, b.Attach("w", make(chan types.Message, 1)))
	err := b.Attach("w", make(chan types.Message, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already attached")
}

func TestPublishValidatesPayload(t *testing.T) {
	b := New(250 * time.Millisecond)

	inbox := make(chan types.Message, 8)
	require.NoError(t, b.Attach("w", inbox))

	// Wrong payload type for the kind.
	bad := types.NewMessage(types.KindDistanceReading, "ranging", types.SpeechRequest{Text: "nope"})
	err := b.Publish(bad)
	require.Error(t, err)

	// Missing source.
	noSource := types.Message{Kind: types.KindDistanceReading, Payload: types.DistanceReading{Meters: 1}}
	require.Error(t, b.Publish(noSource))

	assert.Empty(t, drain(inbox), "invalid publishes must not deliver")
	assert.Zero(t, b.Stats().Published[types.KindDistanceReading])
}

func TestPublisherReceivesOwnMessages(t *testing.T) {
	b := New(250 * time.Millisecond)

	inbox := make(chan types.Message, 8)
	require.NoError(t, b.Attach("agent", inbox))

	require.NoError(t, b.Publish(types.NewMessage(types.KindSpeechRequested, "agent",
		types.SpeechRequest{Text: "to myself"})))

	got := drain(inbox)
	require.Len(t, got, 1, "publisher's own inbox receives its messages; workers self-filter")
}

func TestSequenceNumbersAreUnique(t *testing.T) {
	b := New(250 * time.Millisecond)

	inbox := make(chan types.Message, 64)
	require.NoError(t, b.Attach("w", inbox))

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = b.Publish(types.NewMessage(types.KindSpeechRequested,
					fmt.Sprintf("pub-%d", p), types.SpeechRequest{Text: "x"}))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, msg := range drain(inbox) {
		if seen[msg.Seq] {
			t.Fatalf("duplicate sequence number %d", msg.Seq)
		}
		seen[msg.Seq] = true
	}
	assert.Len(t, seen, 40)
}
