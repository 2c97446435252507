package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserConfig holds per-workspace settings from .bot/config.json.
// The YAML Config covers the robot itself; this file carries the bits a
// person edits by hand: provider keys, model override, console theme, and
// the debug logging toggles the logging package reads at startup.
type UserConfig struct {
	// Provider selection (openai, gemini)
	Provider string `json:"provider,omitempty"`

	// API keys for each provider
	APIKey       string `json:"api_key,omitempty"`        // Legacy: single key
	OpenAIAPIKey string `json:"openai_api_key,omitempty"` // OpenAI
	GeminiAPIKey string `json:"gemini_api_key,omitempty"` // Google Gemini

	// Optional model override
	Model string `json:"model,omitempty"`

	// Theme for the console dashboard ("light" or "dark")
	Theme string `json:"theme,omitempty"`

	// Logging configuration (debug_mode gates the category file logs)
	Logging *LoggingConfig `json:"logging,omitempty"`
}

// DefaultUserConfigPath returns the default path to .bot/config.json.
func DefaultUserConfigPath() string {
	root, err := FindWorkspaceRoot()
	if err != nil {
		return ".bot/config.json"
	}
	return filepath.Join(root, ".bot", "config.json")
}

// FindWorkspaceRoot attempts to find the project root by looking for .bot
// or go.mod. If not found, returns the current working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".bot")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// LoadUserConfig loads configuration from .bot/config.json.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return empty config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to .bot/config.json.
func (c *UserConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}

// GetActiveProvider returns the provider and API key to use.
// Priority: explicit provider setting > first available key
func (c *UserConfig) GetActiveProvider() (provider string, apiKey string) {
	// If provider is explicitly set, use that provider's key
	if c.Provider != "" {
		switch c.Provider {
		case "openai":
			if c.OpenAIAPIKey != "" {
				return "openai", c.OpenAIAPIKey
			}
		case "gemini":
			if c.GeminiAPIKey != "" {
				return "gemini", c.GeminiAPIKey
			}
		}
	}

	// Check for provider-specific keys in priority order
	if c.OpenAIAPIKey != "" {
		return "openai", c.OpenAIAPIKey
	}
	if c.GeminiAPIKey != "" {
		return "gemini", c.GeminiAPIKey
	}

	// Legacy: single api_key field (assume openai for backward compatibility)
	if c.APIKey != "" {
		return "openai", c.APIKey
	}

	return "", ""
}

// GetLogging returns logging settings with defaults.
func (c *UserConfig) GetLogging() LoggingConfig {
	if c.Logging != nil {
		cfg := *c.Logging
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		if cfg.Format == "" {
			cfg.Format = "text"
		}
		// Note: DebugMode defaults to false (production mode) unless explicitly set
		return cfg
	}
	return LoggingConfig{
		Level:     "info",
		Format:    "text",
		File:      "bot.log",
		DebugMode: false, // Production mode by default
	}
}

// DefaultUserConfig returns a UserConfig with sensible defaults.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Theme:    "dark",
	}
}

// GlobalConfig is a convenience function to load config from the default path.
// Returns an empty config (with defaults available via Get* methods) if file doesn't exist.
func GlobalConfig() (*UserConfig, error) {
	return LoadUserConfig(DefaultUserConfigPath())
}
