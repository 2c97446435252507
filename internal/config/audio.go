package config

import "time"

// AudioConfig configures the microphone worker.
type AudioConfig struct {
	// SampleRate in Hz for capture.
	SampleRate int `yaml:"sample_rate"`

	// CaptureMax bounds a single utterance capture.
	CaptureMax string `yaml:"capture_max"`

	// OpenWindow is how long the mic stays open after a wake phrase.
	OpenWindow string `yaml:"open_window"`

	// GreetingDelay is the pause between a face appearing and the greeting.
	GreetingDelay string `yaml:"greeting_delay"`

	// RegreetAfter re-greets a face that stayed silent this long.
	RegreetAfter string `yaml:"regreet_after"`

	// WakeProbe is the short listen window used when no face is present.
	WakeProbe string `yaml:"wake_probe"`

	// Greetings toggles spoken greetings on face-appear.
	Greetings bool `yaml:"greetings"`
}

// GetCaptureMax returns the utterance capture bound as a duration.
func (c *Config) GetCaptureMax() time.Duration {
	d, err := time.ParseDuration(c.Audio.CaptureMax)
	if err != nil {
		return 8 * time.Second
	}
	return d
}

// GetOpenWindow returns the post-wake mic window as a duration.
func (c *Config) GetOpenWindow() time.Duration {
	d, err := time.ParseDuration(c.Audio.OpenWindow)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetGreetingDelay returns the face-to-greeting pause as a duration.
func (c *Config) GetGreetingDelay() time.Duration {
	d, err := time.ParseDuration(c.Audio.GreetingDelay)
	if err != nil {
		return 1500 * time.Millisecond
	}
	return d
}

// GetRegreetAfter returns the idle re-greet interval as a duration.
func (c *Config) GetRegreetAfter() time.Duration {
	d, err := time.ParseDuration(c.Audio.RegreetAfter)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

// GetWakeProbe returns the no-face wake listen window as a duration.
func (c *Config) GetWakeProbe() time.Duration {
	d, err := time.ParseDuration(c.Audio.WakeProbe)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
