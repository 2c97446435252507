// Package llm provides the language model clients behind the agent
// worker. Both providers implement types.LLMClient: a chat completion
// with optional system prompt, plus a reachability ping used during
// startup readiness checks.
package llm

import (
	"fmt"

	"botnerd/internal/config"
	"botnerd/internal/types"
)

// New builds the provider client named by cfg.LLM.Provider.
func New(cfg *config.Config) (types.LLMClient, error) {
	switch cfg.LLM.Provider {
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	case "gemini":
		return NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: %v)", cfg.LLM.Provider, config.ValidProviders)
	}
}
