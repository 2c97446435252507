package workers

import (
	"context"
	"fmt"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

// rangingInterval is the ultrasonic sample cadence. 10Hz keeps the
// interlock fresh without flooding the lossy distance stream.
const rangingInterval = 100 * time.Millisecond

// RangingWorker samples the forward ultrasonic sensor. Every sample feeds
// the gate's interlock before it is published, so a motion command racing a
// close reading can never slip past the veto.
type RangingWorker struct {
	*BaseWorker
	sensor types.RangeSensor
	gate   *trust.Gate
}

// NewRangingWorker wires the sensor collaborator and the gate.
func NewRangingWorker(cfg *config.Config, bus types.Publisher, sensor types.RangeSensor, gate *trust.Gate) *RangingWorker {
	return &RangingWorker{
		BaseWorker: NewBase("ranging", cfg.Bus.InboxSize, bus),
		sensor:     sensor,
		gate:       gate,
	}
}

// AcceptedKinds is empty: ranging is a pure producer.
func (w *RangingWorker) AcceptedKinds() []types.Kind { return nil }

func (w *RangingWorker) OnMessage(ctx context.Context, msg types.Message) error { return nil }

func (w *RangingWorker) TickInterval() time.Duration { return rangingInterval }

// OnTick reads one sample, updates the interlock, then publishes. The order
// matters: no consumer may observe a distance the gate has not.
func (w *RangingWorker) OnTick(ctx context.Context) error {
	meters, err := w.sensor.Read(ctx)
	if err != nil {
		return fmt.Errorf("range read failed: %w", err)
	}
	w.gate.UpdateClearance(meters)
	return w.Publish(types.KindDistanceReading, types.DistanceReading{Meters: meters})
}
