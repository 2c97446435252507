package config

import "time"

// STTConfig configures the transcription worker.
type STTConfig struct {
	// WakeWords are the spoken names that open the mic window. Variants
	// are matched fuzzily, so close mishearings still wake the bot.
	WakeWords []string `yaml:"wake_words"`

	// FuzzyRatio is the minimum similarity ratio for a wake-word match.
	FuzzyRatio float64 `yaml:"fuzzy_ratio"`

	// MaxCandidateAge discards wake candidates older than this. Newer
	// candidates always win over queued stale ones.
	MaxCandidateAge string `yaml:"max_candidate_age"`
}

// GetMaxCandidateAge returns the wake candidate staleness bound.
func (c *Config) GetMaxCandidateAge() time.Duration {
	d, err := time.ParseDuration(c.STT.MaxCandidateAge)
	if err != nil {
		return 3 * time.Second
	}
	return d
}
