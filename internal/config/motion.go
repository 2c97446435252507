package config

import "time"

// MotionConfig configures the drive worker.
type MotionConfig struct {
	// MoveSeconds is the default duration of a timed forward/backward drive.
	MoveSeconds float64 `yaml:"move_seconds"`

	// TurnSeconds is the default duration of a timed turn.
	TurnSeconds float64 `yaml:"turn_seconds"`

	// FollowTargetM is the distance follow mode tries to hold.
	FollowTargetM float64 `yaml:"follow_target_m"`

	// FollowBandM is the dead band around the follow target.
	FollowBandM float64 `yaml:"follow_band_m"`

	// PulseInterval is the drive pulse cadence in follow mode.
	PulseInterval string `yaml:"pulse_interval"`

	// PanStepDegrees is one head pan step.
	PanStepDegrees int `yaml:"pan_step_degrees"`
}

// GetPulseInterval returns the follow-mode pulse cadence as a duration.
func (c *Config) GetPulseInterval() time.Duration {
	d, err := time.ParseDuration(c.Motion.PulseInterval)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}
