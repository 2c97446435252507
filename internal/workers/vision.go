package workers

import (
	"context"
	"fmt"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/store"
	"botnerd/internal/types"
)

// VisionWorker turns camera frames into identity_observed sightings and
// runs face enrollment. Raw recognizer output is debounced through a
// stability window so a single misrecognized frame never flips the
// published identity, and the last stable sighting is held briefly after
// the face leaves the frame so consumers don't flap on dropped frames.
type VisionWorker struct {
	*BaseWorker
	cfg        *config.Config
	recognizer types.Recognizer
	faces      *store.FaceStore
	trust      *store.TrustStore

	// Recognition state. Only touched from the worker goroutine.
	candidateID string
	streak      int
	stable      *types.IdentitySighting
	lastSeenAt  time.Time

	// Last identity whose trust record got a last_seen_at write, so the
	// store is not hit on every recognition tick.
	touchedID string
	touchedAt time.Time
}

// NewVisionWorker wires the recognizer collaborator and the stores.
func NewVisionWorker(cfg *config.Config, bus types.Publisher, recognizer types.Recognizer, faces *store.FaceStore, trust *store.TrustStore) *VisionWorker {
	return &VisionWorker{
		BaseWorker: NewBase("vision", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		recognizer: recognizer,
		faces:      faces,
		trust:      trust,
	}
}

func (w *VisionWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{types.KindRegisterRequested}
}

func (w *VisionWorker) TickInterval() time.Duration { return w.cfg.VisionTick() }

// OnTick runs one recognition pass.
func (w *VisionWorker) OnTick(ctx context.Context) error {
	obs, err := w.recognizer.Observe(ctx)
	if err != nil {
		return fmt.Errorf("camera observe failed: %w", err)
	}

	if obs == nil {
		w.candidateID = ""
		w.streak = 0
		// Presence hold: keep re-publishing the last stable sighting so
		// consumers don't treat one dropped frame as a departure.
		if w.stable != nil && time.Since(w.lastSeenAt) <= w.cfg.GetPresenceHold() {
			return w.Publish(types.KindIdentityObserved, *w.stable)
		}
		w.stable = nil
		return nil
	}

	if obs.IdentityID == w.candidateID {
		w.streak++
	} else {
		w.candidateID = obs.IdentityID
		w.streak = 1
	}
	if w.streak < w.stabilityWindow() {
		return nil
	}

	sighting := w.buildSighting(obs)
	w.stable = &sighting
	w.lastSeenAt = time.Now()
	w.markSeen(sighting.IdentityID)
	return w.Publish(types.KindIdentityObserved, sighting)
}

// markSeen persists the sighting on the identity's trust record. Repeat
// sightings of the same face only write once per presence-hold window.
func (w *VisionWorker) markSeen(identityID string) {
	if identityID == "" {
		return
	}
	if identityID == w.touchedID && time.Since(w.touchedAt) < w.cfg.GetPresenceHold() {
		return
	}
	if err := w.trust.TouchSeen(identityID); err != nil {
		logging.VisionWarn("last_seen update for %s failed: %v", identityID, err)
		return
	}
	w.touchedID = identityID
	w.touchedAt = time.Now()
}

// buildSighting resolves the trust level and display name at observation
// time. The level is read from the store on every sighting so a fresh
// registration is visible on the very next frame.
func (w *VisionWorker) buildSighting(obs *types.Observation) types.IdentitySighting {
	s := types.IdentitySighting{
		IdentityID:  obs.IdentityID,
		DisplayName: obs.DisplayName,
		Confidence:  obs.Confidence,
		BBox:        obs.BBox,
	}
	if obs.IdentityID == "" {
		return s
	}
	s.Trust = w.trust.Lookup(obs.IdentityID)
	if rec, ok := w.trust.Get(obs.IdentityID); ok && rec.DisplayName != "" {
		s.DisplayName = rec.DisplayName
	}
	return s
}

func (w *VisionWorker) stabilityWindow() int {
	if w.cfg.Vision.StabilityWindow < 1 {
		return 3
	}
	return w.cfg.Vision.StabilityWindow
}

// OnMessage handles enrollment requests. The whole capture is bounded by
// agent.register_timeout; the result is always published, success or not.
func (w *VisionWorker) OnMessage(ctx context.Context, msg types.Message) error {
	req, ok := msg.Payload.(types.RegisterRequest)
	if !ok {
		return nil
	}
	w.enroll(ctx, req, msg.CorrelationID)
	return nil
}

// enroll captures the configured number of embedding samples, averages and
// normalizes them, and stores the canonical embedding under the derived
// identity id. The trust record itself is written by whoever requested the
// enrollment; vision only owns the face side.
func (w *VisionWorker) enroll(ctx context.Context, req types.RegisterRequest, correlationID string) {
	identityID := types.IdentityID(req.Name)
	logging.Vision("Enrolling %q as %s (%s)", req.Name, identityID, req.Level)
	logging.Audit().Enroll(logging.AuditEnrollStart, identityID, true, "")

	ctx, cancel := context.WithTimeout(ctx, w.cfg.GetRegisterTimeout())
	defer cancel()

	want := w.cfg.Vision.EnrollSamples
	if want < 1 {
		want = 5
	}

	samples, err := w.collectSamples(ctx, want)
	if err != nil {
		w.enrollFailed(req, correlationID, len(samples), err)
		return
	}

	embedding := store.NormalizeVector(store.MeanVector(samples))
	if err := w.faces.SaveEmbedding(identityID, embedding); err != nil {
		w.enrollFailed(req, correlationID, len(samples), err)
		return
	}

	logging.Vision("Enrolled %s: %d samples, %d dims", identityID, len(samples), len(embedding))
	logging.Audit().Enroll(logging.AuditEnrollComplete, identityID, true, "")
	result := types.RegisterResult{OK: true, Name: req.Name, Level: req.Level, Samples: len(samples)}
	if err := w.PublishCorrelated(types.KindRegisterResult, result, correlationID); err != nil {
		logging.VisionWarn("register_result publish failed: %v", err)
	}

	// The new face must match itself immediately; invalidate the debounce so
	// the next stable sighting carries the fresh identity.
	w.candidateID = ""
	w.streak = 0
	w.stable = nil
}

// collectSamples gathers want good samples, tolerating individual capture
// misses up to a bounded attempt count. Samples are spaced one recognition
// tick apart so they come from distinct frames.
func (w *VisionWorker) collectSamples(ctx context.Context, want int) ([][]float32, error) {
	var samples [][]float32
	var lastErr error
	for attempts := 0; len(samples) < want && attempts < want*3; attempts++ {
		if err := ctx.Err(); err != nil {
			return samples, fmt.Errorf("enrollment timed out after %d/%d samples: %w", len(samples), want, err)
		}
		emb, err := w.recognizer.Sample(ctx)
		if err != nil {
			lastErr = err
		} else if len(emb) > 0 {
			samples = append(samples, emb)
		}
		if len(samples) < want {
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.VisionTick()):
			}
		}
	}
	if len(samples) < want {
		if lastErr != nil {
			return samples, fmt.Errorf("only %d/%d samples captured: %w", len(samples), want, lastErr)
		}
		return samples, fmt.Errorf("only %d/%d samples captured", len(samples), want)
	}
	return samples, nil
}

func (w *VisionWorker) enrollFailed(req types.RegisterRequest, correlationID string, got int, err error) {
	identityID := types.IdentityID(req.Name)
	logging.VisionError("Enrollment of %s failed: %v", identityID, err)
	logging.Audit().Enroll(logging.AuditEnrollError, identityID, false, err.Error())
	result := types.RegisterResult{OK: false, Name: req.Name, Level: req.Level, Samples: got, Err: err.Error()}
	if pubErr := w.PublishCorrelated(types.KindRegisterResult, result, correlationID); pubErr != nil {
		logging.VisionWarn("register_result publish failed: %v", pubErr)
	}
}
