package config

import "time"

// LLMConfig configures the language model collaborator used by the
// dialogue agent.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
