package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// MotionWorker drives the wheels and the stepper head. It executes only
// commands the gate has stamped approved. Timed drives are scheduled, not
// slept through, so a stop command takes effect the moment it arrives; a
// forward motion is also halted by the worker's own reflex the moment
// clearance drops below the safety minimum.
type MotionWorker struct {
	*BaseWorker
	cfg    *config.Config
	driver types.MotionDriver

	// mu guards the driver and drive state; the halt timer fires on its own
	// goroutine.
	mu          sync.Mutex
	moving      bool
	following   bool
	currentVerb string
	stopTimer   *time.Timer
	clearanceM  float64
}

// NewMotionWorker wires the motion driver collaborator.
func NewMotionWorker(cfg *config.Config, bus types.Publisher, driver types.MotionDriver) *MotionWorker {
	return &MotionWorker{
		BaseWorker: NewBase("motion", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		driver:     driver,
		clearanceM: -1,
	}
}

func (w *MotionWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{types.KindCommandRequested, types.KindDistanceReading}
}

func (w *MotionWorker) TickInterval() time.Duration { return w.cfg.GetPulseInterval() }

func (w *MotionWorker) OnMessage(ctx context.Context, msg types.Message) error {
	switch msg.Kind {
	case types.KindDistanceReading:
		if p, ok := msg.Payload.(types.DistanceReading); ok {
			w.observeClearance(p.Meters)
		}
		return nil
	case types.KindCommandRequested:
		cmd, ok := msg.Payload.(types.Command)
		if !ok || !types.MotionVerb(cmd.Verb) {
			return nil
		}
		if !cmd.Approved {
			logging.MotionWarn("Ignoring unapproved %s command from %q", cmd.Verb, cmd.RequestedBy)
			return nil
		}
		return w.executeCommand(cmd)
	}
	return nil
}

func (w *MotionWorker) executeCommand(cmd types.Command) error {
	logging.Motion("Executing %s (by %q)", cmd.Verb, cmd.RequestedBy)
	switch cmd.Verb {
	case types.VerbStop:
		return w.halt()
	case types.VerbForward, types.VerbBackward:
		return w.timedDrive(cmd.Verb, cmd.Seconds, w.cfg.Motion.MoveSeconds)
	case types.VerbLeft, types.VerbRight:
		return w.timedDrive(cmd.Verb, cmd.Seconds, w.cfg.Motion.TurnSeconds)
	case types.VerbFollow:
		return w.engageFollow()
	case types.VerbPan:
		return w.pan(cmd.Target)
	}
	return nil
}

// timedDrive starts the motion and schedules the halt. The schedule keeps
// the worker loop free to receive a stop or a close distance reading while
// the platform is still rolling.
func (w *MotionWorker) timedDrive(verb string, seconds, fallback float64) error {
	if seconds <= 0 {
		seconds = fallback
	}
	if seconds <= 0 {
		seconds = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.following = false
	w.cancelTimerLocked()
	if err := w.driver.Drive(verb); err != nil {
		return fmt.Errorf("drive %s failed: %w", verb, err)
	}
	w.currentVerb = verb
	w.setMovingLocked(true)
	w.stopTimer = time.AfterFunc(time.Duration(seconds*float64(time.Second)), w.timedDriveDone)
	return nil
}

func (w *MotionWorker) timedDriveDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimer = nil
	w.currentVerb = ""
	if err := w.driver.Stop(); err != nil {
		logging.MotionWarn("Stop after timed drive failed: %v", err)
	}
	w.setMovingLocked(false)
}

// halt stops everything now: the wheels, any scheduled halt, follow mode.
func (w *MotionWorker) halt() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelTimerLocked()
	w.following = false
	w.currentVerb = ""
	if err := w.driver.Stop(); err != nil {
		w.setMovingLocked(false)
		return fmt.Errorf("stop failed: %w", err)
	}
	w.setMovingLocked(false)
	return nil
}

func (w *MotionWorker) engageFollow() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTimerLocked()
	w.following = true
	w.setMovingLocked(true)
	logging.Motion("Follow mode engaged (target %.2fm)", w.cfg.Motion.FollowTargetM)
	return nil
}

func (w *MotionWorker) pan(target string) error {
	side := 0
	switch target {
	case "left":
		side = -1
	case "right":
		side = 1
	case "center", "":
		side = 0
	default:
		return fmt.Errorf("unknown pan target %q", target)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.driver.Pan(side); err != nil {
		return fmt.Errorf("pan %s failed: %w", target, err)
	}
	return nil
}

// observeClearance feeds the safety reflex: a forward motion in progress is
// halted the moment clearance drops below the minimum, without waiting for
// any gate round-trip.
func (w *MotionWorker) observeClearance(meters float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearanceM = meters
	if meters < w.cfg.Safety.MinClearanceM && w.currentVerb == types.VerbForward {
		logging.MotionWarn("Reflex halt: clearance %.2fm below %.2fm", meters, w.cfg.Safety.MinClearanceM)
		w.cancelTimerLocked()
		w.currentVerb = ""
		if err := w.driver.Stop(); err != nil {
			logging.MotionError("Reflex stop failed: %v", err)
		}
		if !w.following {
			w.setMovingLocked(false)
		}
	}
}

// OnTick runs one follow-mode pulse: hold the target distance inside the
// dead band, forward only while clearance stays above the safety minimum.
func (w *MotionWorker) OnTick(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.following || w.clearanceM < 0 {
		return nil
	}

	diff := w.clearanceM - w.cfg.Motion.FollowTargetM
	band := w.cfg.Motion.FollowBandM
	switch {
	case diff > band && w.clearanceM > w.cfg.Safety.MinClearanceM:
		return w.pulseLocked(types.VerbForward)
	case diff < -band:
		return w.pulseLocked(types.VerbBackward)
	}
	return nil
}

func (w *MotionWorker) pulseLocked(verb string) error {
	w.cancelTimerLocked()
	if err := w.driver.Drive(verb); err != nil {
		return fmt.Errorf("follow pulse %s failed: %w", verb, err)
	}
	w.currentVerb = verb
	w.stopTimer = time.AfterFunc(w.cfg.GetPulseInterval()*3/4, w.pulseDone)
	return nil
}

func (w *MotionWorker) pulseDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimer = nil
	w.currentVerb = ""
	if err := w.driver.Stop(); err != nil {
		logging.MotionWarn("Stop after follow pulse failed: %v", err)
	}
}

// OnStop halts and releases the hardware on every exit path.
func (w *MotionWorker) OnStop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTimerLocked()
	w.following = false
	if err := w.driver.Stop(); err != nil {
		logging.MotionWarn("Stop on shutdown failed: %v", err)
	}
	if err := w.driver.Release(); err != nil {
		return fmt.Errorf("driver release failed: %w", err)
	}
	return nil
}

func (w *MotionWorker) cancelTimerLocked() {
	if w.stopTimer != nil {
		w.stopTimer.Stop()
		w.stopTimer = nil
	}
}

// setMovingLocked publishes motion_state on every change. The kind is lossy
// so publishing under the mutex never blocks.
func (w *MotionWorker) setMovingLocked(moving bool) {
	if w.moving == moving {
		return
	}
	w.moving = moving
	if err := w.Publish(types.KindMotionState, types.MotionState{Moving: moving}); err != nil {
		logging.MotionWarn("motion_state publish failed: %v", err)
	}
}
