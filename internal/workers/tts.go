package workers

import (
	"context"
	"fmt"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// TTSWorker turns speech requests into sound. Playback is bracketed by
// speech_started / speech_finished so the mic stays closed while the bot
// talks; the finished event goes out even when synthesis fails, otherwise
// the mic would stay gated forever.
type TTSWorker struct {
	*BaseWorker
	cfg     *config.Config
	speaker types.Speaker
}

// NewTTSWorker wires the speaker collaborator.
func NewTTSWorker(cfg *config.Config, bus types.Publisher, speaker types.Speaker) *TTSWorker {
	return &TTSWorker{
		BaseWorker: NewBase("tts", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		speaker:    speaker,
	}
}

func (w *TTSWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{types.KindSpeechRequested}
}

// OnStart pre-generates the phrases spoken most often, so fillers and
// greetings play with no synthesis latency.
func (w *TTSWorker) OnStart(ctx context.Context) error {
	phrases := append([]string{}, w.cfg.TTS.PrimePhrases...)
	phrases = append(phrases, w.cfg.Agent.FillerPhrases...)
	if len(phrases) == 0 {
		return nil
	}
	if err := w.speaker.Prime(ctx, phrases); err != nil {
		// Priming is a warm-up, not a prerequisite.
		logging.Get(logging.CategoryTTS).Warn("Phrase priming failed: %v", err)
	} else {
		logging.TTS("Primed %d phrases", len(phrases))
	}
	return nil
}

func (w *TTSWorker) OnMessage(ctx context.Context, msg types.Message) error {
	req, ok := msg.Payload.(types.SpeechRequest)
	if !ok {
		return nil
	}
	if !w.cfg.TTS.Enabled {
		logging.TTSDebug("Speech disabled, dropping %q", req.Text)
		return nil
	}

	envelope := types.SpeechState{Text: req.Text, IsFiller: req.IsFiller}
	if err := w.PublishCorrelated(types.KindSpeechStarted, envelope, msg.CorrelationID); err != nil {
		logging.Get(logging.CategoryTTS).Warn("speech_started publish failed: %v", err)
	}

	logging.TTS("Speaking: %q", req.Text)
	speakErr := w.speaker.Speak(ctx, req.Text)

	if err := w.PublishCorrelated(types.KindSpeechFinished, envelope, msg.CorrelationID); err != nil {
		logging.Get(logging.CategoryTTS).Warn("speech_finished publish failed: %v", err)
	}
	if speakErr != nil {
		return fmt.Errorf("speech synthesis failed: %w", speakErr)
	}
	return nil
}
