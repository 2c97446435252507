package config

import "time"

// VisionConfig configures the camera worker.
type VisionConfig struct {
	// CameraIndex selects the capture device.
	CameraIndex int `yaml:"camera_index"`

	// FPS is the recognition tick rate.
	FPS int `yaml:"fps"`

	// StabilityWindow is how many consecutive ticks must agree before a
	// sighting is published.
	StabilityWindow int `yaml:"stability_window"`

	// PresenceHold keeps re-publishing the last stable sighting for this
	// long after the face disappears.
	PresenceHold string `yaml:"presence_hold"`

	// EnrollSamples is how many embeddings are averaged during enrollment.
	EnrollSamples int `yaml:"enroll_samples"`

	// MatchThreshold is the minimum cosine similarity for a face match.
	MatchThreshold float64 `yaml:"match_threshold"`
}

// GetPresenceHold returns the presence hold window as a duration.
func (c *Config) GetPresenceHold() time.Duration {
	d, err := time.ParseDuration(c.Vision.PresenceHold)
	if err != nil {
		return 4 * time.Second
	}
	return d
}

// VisionTick returns the interval between recognition ticks.
func (c *Config) VisionTick() time.Duration {
	fps := c.Vision.FPS
	if fps < 1 {
		fps = 5
	}
	return time.Second / time.Duration(fps)
}
