package config

import "time"

// WorkersConfig configures the worker manager.
type WorkersConfig struct {
	// StartTimeout bounds each worker's OnStart.
	StartTimeout string `yaml:"start_timeout"`

	// StopTimeout is the default graceful drain window for StopAll.
	StopTimeout string `yaml:"stop_timeout"`

	// Enabled selects which workers run. Empty means all declared workers.
	Enabled map[string]bool `yaml:"enabled"`

	// Simulate swaps every hardware collaborator for its simulated twin.
	Simulate bool `yaml:"simulate"`
}

// WorkerEnabled reports whether a named worker should be started.
// An empty map enables everything.
func (c *Config) WorkerEnabled(name string) bool {
	if len(c.Workers.Enabled) == 0 {
		return true
	}
	enabled, ok := c.Workers.Enabled[name]
	return ok && enabled
}

// GetStartTimeout returns the per-worker start timeout as a duration.
func (c *Config) GetStartTimeout() time.Duration {
	d, err := time.ParseDuration(c.Workers.StartTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetStopTimeout returns the graceful stop window as a duration.
func (c *Config) GetStopTimeout() time.Duration {
	d, err := time.ParseDuration(c.Workers.StopTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
