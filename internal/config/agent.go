package config

import "time"

// AgentConfig configures the dialogue agent worker.
type AgentConfig struct {
	// Filler speaks a short phrase while the LLM call is in flight.
	Filler bool `yaml:"filler"`

	// FillerPhrases is the rotation of thinking phrases.
	FillerPhrases []string `yaml:"filler_phrases"`

	// HistoryTurns is how many prior exchanges the LLM prompt carries.
	HistoryTurns int `yaml:"history_turns"`

	// RegisterCountdown is the number of chime steps before enrollment
	// capture begins.
	RegisterCountdown int `yaml:"register_countdown"`

	// RegisterTimeout bounds the whole registration flow.
	RegisterTimeout string `yaml:"register_timeout"`

	// Disabled turns the agent worker off entirely.
	Disabled bool `yaml:"disabled"`
}

// Enabled reports whether the agent worker should run.
func (a *AgentConfig) Enabled() bool {
	return !a.Disabled
}

// GetRegisterTimeout returns the registration flow deadline as a duration.
func (c *Config) GetRegisterTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.RegisterTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}
