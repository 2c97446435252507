package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("OPENAI_API_KEY sets provider if empty", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		// Ensure others are unset
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("BOT_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("OPENAI_API_KEY does not override existing provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("BOT_API_KEY", "")

		cfg := &Config{
			LLM: LLMConfig{Provider: "custom"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "custom", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY overrides provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("BOT_API_KEY", "")

		cfg := &Config{
			LLM: LLMConfig{Provider: "initial"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("Precedence: GEMINI overrides OPENAI", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("BOT_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("BOT_API_KEY wins without touching provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("BOT_API_KEY", "bot-key")

		cfg := &Config{LLM: LLMConfig{Provider: "openai"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "bot-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("Model and base URL overrides", func(t *testing.T) {
		t.Setenv("BOT_MODEL", "gpt-4o")
		t.Setenv("BOT_BASE_URL", "http://llm.local/v1")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.Equal(t, "http://llm.local/v1", cfg.LLM.BaseURL)
	})
}

func TestEnvOverrides_TrustAndSafety(t *testing.T) {
	t.Run("Trust store paths", func(t *testing.T) {
		t.Setenv("BOT_DB", "/tmp/test.db")
		t.Setenv("BOT_RULES", "/tmp/rules.gl")
		t.Setenv("BOT_OWNER", "owner-env")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/test.db", cfg.Trust.DBPath)
		assert.Equal(t, "/tmp/rules.gl", cfg.Trust.RulesPath)
		assert.Equal(t, "owner-env", cfg.Trust.Owner)
	})

	t.Run("Clearance override", func(t *testing.T) {
		t.Setenv("BOT_MIN_CLEARANCE", "0.4")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.4, cfg.Safety.MinClearanceM)
	})

	t.Run("Clearance override rejects garbage", func(t *testing.T) {
		t.Setenv("BOT_MIN_CLEARANCE", "close")

		cfg := &Config{Safety: SafetyConfig{MinClearanceM: 0.25}}
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.25, cfg.Safety.MinClearanceM)
	})

	t.Run("Clearance override rejects non-positive", func(t *testing.T) {
		t.Setenv("BOT_MIN_CLEARANCE", "-1")

		cfg := &Config{Safety: SafetyConfig{MinClearanceM: 0.25}}
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.25, cfg.Safety.MinClearanceM)
	})
}

func TestEnvOverrides_Simulate(t *testing.T) {
	t.Run("BOT_SIM true", func(t *testing.T) {
		t.Setenv("BOT_SIM", "true")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Workers.Simulate)
	})

	t.Run("BOT_SIM garbage leaves config value", func(t *testing.T) {
		t.Setenv("BOT_SIM", "definitely")

		cfg := &Config{Workers: WorkersConfig{Simulate: true}}
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Workers.Simulate)
	})
}
