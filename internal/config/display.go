package config

import "time"

// DisplayConfig configures the face/emotion display worker.
type DisplayConfig struct {
	// RenderInterval is the display refresh tick.
	RenderInterval string `yaml:"render_interval"`

	// LonelyAfter is how long with no face before the LONELY emotion.
	LonelyAfter string `yaml:"lonely_after"`

	// StuckAfter is how long below minimum clearance before STUCK.
	StuckAfter string `yaml:"stuck_after"`
}

// GetRenderInterval returns the display refresh tick as a duration.
func (c *Config) GetRenderInterval() time.Duration {
	d, err := time.ParseDuration(c.Display.RenderInterval)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetLonelyAfter returns the no-face LONELY threshold as a duration.
func (c *Config) GetLonelyAfter() time.Duration {
	d, err := time.ParseDuration(c.Display.LonelyAfter)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetStuckAfter returns the blocked-clearance STUCK threshold as a duration.
func (c *Config) GetStuckAfter() time.Duration {
	d, err := time.ParseDuration(c.Display.StuckAfter)
	if err != nil {
		return 8 * time.Second
	}
	return d
}
