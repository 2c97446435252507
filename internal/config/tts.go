package config

// TTSConfig configures the speech synthesis worker.
type TTSConfig struct {
	// Enabled turns spoken output on.
	Enabled bool `yaml:"enabled"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// PrimePhrases are synthesized into the cache at startup so short
	// common replies play without synthesis latency.
	PrimePhrases []string `yaml:"prime_phrases"`
}
