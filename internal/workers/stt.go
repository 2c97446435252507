package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// greetingWords open the bot on their own when the whole utterance is at
// most two words ("hey there", "hello robot").
var greetingWords = []string{"hello", "hey", "hi"}

// STTWorker transcribes recordings. Wake candidates are matched against the
// wake vocabulary with a fuzzy ratio so close mishearings ("hey bought")
// still wake the bot; full utterances become utterance_transcribed carrying
// the capture's correlation id.
type STTWorker struct {
	*BaseWorker
	cfg         *config.Config
	transcriber types.Transcriber
}

// NewSTTWorker wires the transcriber collaborator.
func NewSTTWorker(cfg *config.Config, bus types.Publisher, transcriber types.Transcriber) *STTWorker {
	return &STTWorker{
		BaseWorker:  NewBase("stt", cfg.Bus.InboxSize, bus),
		cfg:         cfg,
		transcriber: transcriber,
	}
}

func (w *STTWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{types.KindWakeCandidate, types.KindUtteranceCaptured}
}

func (w *STTWorker) OnMessage(ctx context.Context, msg types.Message) error {
	switch msg.Kind {
	case types.KindWakeCandidate:
		if p, ok := msg.Payload.(types.WakeCandidate); ok {
			w.handleCandidate(ctx, p)
		}
		return nil
	case types.KindUtteranceCaptured:
		p, ok := msg.Payload.(types.UtteranceCaptured)
		if !ok {
			return nil
		}
		return w.transcribeUtterance(ctx, p, msg.CorrelationID)
	}
	return nil
}

// handleCandidate transcribes one wake probe. Candidates queue up whenever
// transcription is slower than probing, so anything older than the staleness
// bound is dropped unheard; the newest recording always wins. Transcription
// errors on probes are routine (silence, noise) and only drop the candidate.
func (w *STTWorker) handleCandidate(ctx context.Context, cand types.WakeCandidate) {
	age := time.Since(cand.CapturedAt)
	if age > w.cfg.GetMaxCandidateAge() {
		logging.STTDebug("Dropping stale wake candidate %s (age %v)", cand.AudioRef, age)
		return
	}

	text, err := w.transcriber.Transcribe(ctx, cand.AudioRef)
	if err != nil {
		logging.STTDebug("Wake candidate %s transcription failed: %v", cand.AudioRef, err)
		return
	}

	phrase, ok := w.matchWake(text)
	if !ok {
		logging.STTDebug("No wake phrase in %q", text)
		return
	}

	logging.STT("Wake phrase %q matched %q", text, phrase)
	if err := w.Publish(types.KindWakeDetected, types.WakeDetected{Text: text, OpenFor: w.cfg.GetOpenWindow()}); err != nil {
		logging.STTWarn("wake_detected publish failed: %v", err)
	}
}

// transcribeUtterance turns a captured utterance into text for the agent.
// Results shorter than two characters are transcription noise and dropped.
func (w *STTWorker) transcribeUtterance(ctx context.Context, utt types.UtteranceCaptured, correlationID string) error {
	timer := logging.StartTimer(logging.CategorySTT, "transcribe")
	text, err := w.transcriber.Transcribe(ctx, utt.AudioRef)
	timer.Stop()
	if err != nil {
		return fmt.Errorf("transcription of %s failed: %w", utt.AudioRef, err)
	}

	text = strings.TrimSpace(text)
	if len([]rune(text)) < 2 {
		logging.STTDebug("Dropping empty transcription %q [%s]", text, correlationID)
		return nil
	}

	logging.STT("Transcribed %q [%s]", text, correlationID)
	return w.PublishCorrelated(types.KindUtteranceTranscribed, types.UtteranceTranscribed{Text: text}, correlationID)
}

// matchWake reports whether the text contains a wake phrase and returns the
// vocabulary entry it matched.
func (w *STTWorker) matchWake(text string) (string, bool) {
	norm := normalizeSpeech(text)
	if norm == "" {
		return "", false
	}
	words := strings.Fields(norm)
	ratio := w.cfg.STT.FuzzyRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.74
	}

	// The whole utterance, or any window of words inside it, may be the
	// wake phrase ("robot", "hey bot could you...").
	for _, wake := range w.cfg.STT.WakeWords {
		wakeNorm := normalizeSpeech(wake)
		if wakeNorm == "" {
			continue
		}
		if fuzzyRatio(norm, wakeNorm) >= ratio {
			return wake, true
		}
		span := len(strings.Fields(wakeNorm))
		for i := 0; i+span <= len(words); i++ {
			window := strings.Join(words[i:i+span], " ")
			if fuzzyRatio(window, wakeNorm) >= ratio {
				return wake, true
			}
		}
	}

	// A bare greeting wakes the bot too, but only when the utterance is
	// short enough to be a greeting and nothing else.
	if len(words) <= 2 {
		for _, g := range greetingWords {
			if words[0] == g {
				return g, true
			}
		}
	}

	if strings.Contains(norm, "can you hear me") {
		return "can you hear me", true
	}

	return "", false
}

// normalizeSpeech lowercases and strips everything but letters, digits and
// single spaces, so punctuation from the transcriber never blocks a match.
func normalizeSpeech(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'':
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// fuzzyRatio is the normalized similarity of two strings: 1 for identical,
// 0 for nothing in common.
func fuzzyRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
