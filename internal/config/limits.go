package config

import "fmt"

// CoreLimits enforces system-wide resource constraints.
type CoreLimits struct {
	MaxInboxSize     int `yaml:"max_inbox_size" json:"max_inbox_size"`         // Upper bound on bus.inbox_size
	MaxPolicyFacts   int `yaml:"max_policy_facts" json:"max_policy_facts"`     // Gate kernel fact limit per evaluation
	MaxEnrollSamples int `yaml:"max_enroll_samples" json:"max_enroll_samples"` // Upper bound on vision.enroll_samples
	MaxPendingSpeech int `yaml:"max_pending_speech" json:"max_pending_speech"` // Queued speech requests before refusal
	MaxHistoryTurns  int `yaml:"max_history_turns" json:"max_history_turns"`   // Upper bound on agent.history_turns
}

// DefaultCoreLimits returns the built-in resource ceilings.
func DefaultCoreLimits() CoreLimits {
	return CoreLimits{
		MaxInboxSize:     1024,
		MaxPolicyFacts:   10000,
		MaxEnrollSamples: 25,
		MaxPendingSpeech: 32,
		MaxHistoryTurns:  50,
	}
}

// ValidateCoreLimits checks that configured values sit inside the ceilings.
func (c *Config) ValidateCoreLimits() error {
	limits := DefaultCoreLimits()
	if c.Bus.InboxSize > limits.MaxInboxSize {
		return fmt.Errorf("bus.inbox_size must be <= %d", limits.MaxInboxSize)
	}
	if c.Vision.EnrollSamples > limits.MaxEnrollSamples {
		return fmt.Errorf("vision.enroll_samples must be <= %d", limits.MaxEnrollSamples)
	}
	if c.Agent.HistoryTurns > limits.MaxHistoryTurns {
		return fmt.Errorf("agent.history_turns must be <= %d", limits.MaxHistoryTurns)
	}
	return nil
}
