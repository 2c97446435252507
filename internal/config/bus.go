package config

import "time"

// BusConfig configures the message bus.
type BusConfig struct {
	// InboxSize is the bounded inbox capacity per worker.
	InboxSize int `yaml:"inbox_size"`

	// PublishTimeout bounds how long a blocking-policy publish waits on a
	// full inbox before reporting overflow. Lossy kinds never wait.
	PublishTimeout string `yaml:"publish_timeout"`
}

// GetPublishTimeout returns the blocking publish timeout as a duration.
func (c *Config) GetPublishTimeout() time.Duration {
	d, err := time.ParseDuration(c.Bus.PublishTimeout)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}
