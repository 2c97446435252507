package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"botnerd/internal/types"
)

// Config holds all botnerd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Message bus configuration
	Bus BusConfig `yaml:"bus"`

	// Worker manager configuration
	Workers WorkersConfig `yaml:"workers"`

	// Trust store and action gate configuration
	Trust TrustConfig `yaml:"trust"`

	// Safety interlock configuration
	Safety SafetyConfig `yaml:"safety"`

	// Perception configuration
	Vision VisionConfig `yaml:"vision"`
	Audio  AudioConfig  `yaml:"audio"`
	STT    STTConfig    `yaml:"stt"`

	// Dialogue configuration
	Agent AgentConfig `yaml:"agent"`
	LLM   LLMConfig   `yaml:"llm"`
	TTS   TTSConfig   `yaml:"tts"`

	// Actuation configuration
	Motion  MotionConfig  `yaml:"motion"`
	Display DisplayConfig `yaml:"display"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "botnerd",
		Version: "0.3.0",

		Bus: BusConfig{
			InboxSize:      64,
			PublishTimeout: "250ms",
		},

		Workers: WorkersConfig{
			StartTimeout: "10s",
			StopTimeout:  "5s",
			Simulate:     false,
		},

		Trust: TrustConfig{
			DBPath:    ".bot/bot.db",
			RulesPath: "",
			Owner:     "owner-cli",
			Required: map[string]string{
				"read_only":       "unknown",
				"low_risk_output": "unknown",
				"physical_motion": "known",
				"admin":           "owner",
			},
		},

		Safety: SafetyConfig{
			MinClearanceM:   0.25,
			ProximityAlertM: 0.50,
		},

		Vision: VisionConfig{
			CameraIndex:     0,
			FPS:             5,
			StabilityWindow: 3,
			PresenceHold:    "4s",
			EnrollSamples:   5,
			MatchThreshold:  0.45,
		},

		Audio: AudioConfig{
			SampleRate:    16000,
			CaptureMax:    "8s",
			OpenWindow:    "10s",
			GreetingDelay: "1500ms",
			RegreetAfter:  "90s",
			WakeProbe:     "2s",
			Greetings:     true,
		},

		STT: STTConfig{
			WakeWords:       []string{"hey bot", "robot"},
			FuzzyRatio:      0.74,
			MaxCandidateAge: "3s",
		},

		Agent: AgentConfig{
			Filler:            true,
			FillerPhrases:     []string{"Working on it.", "Let me think.", "Hmm, gotcha."},
			HistoryTurns:      6,
			RegisterCountdown: 3,
			RegisterTimeout:   "20s",
		},

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "30s",
			MaxTokens:   256,
			Temperature: 0.4,
		},

		TTS: TTSConfig{
			Enabled: true,
			Voice:   "default",
		},

		Motion: MotionConfig{
			MoveSeconds:    1.2,
			TurnSeconds:    0.6,
			FollowTargetM:  0.5,
			FollowBandM:    0.1,
			PulseInterval:  "300ms",
			PanStepDegrees: 15,
		},

		Display: DisplayConfig{
			RenderInterval: "200ms",
			LonelyAfter:    "60s",
			StuckAfter:     "8s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "bot.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (check in priority order)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		// BOT_API_KEY carries no provider; when it takes the key below,
		// the configured provider must survive untouched.
		if os.Getenv("BOT_API_KEY") == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("BOT_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if model := os.Getenv("BOT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("BOT_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}

	// Trust store paths from environment
	if path := os.Getenv("BOT_DB"); path != "" {
		c.Trust.DBPath = path
	}
	if path := os.Getenv("BOT_RULES"); path != "" {
		c.Trust.RulesPath = path
	}
	if owner := os.Getenv("BOT_OWNER"); owner != "" {
		c.Trust.Owner = owner
	}

	// Safety clearance from environment
	if v := os.Getenv("BOT_MIN_CLEARANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Safety.MinClearanceM = f
		}
	}

	// Simulated collaborators from environment
	if v := os.Getenv("BOT_SIM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Workers.Simulate = b
		}
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bus.InboxSize < 1 {
		return fmt.Errorf("bus.inbox_size must be >= 1")
	}
	if c.GetPublishTimeout() <= 0 {
		return fmt.Errorf("bus.publish_timeout must be a positive duration")
	}
	if c.GetStartTimeout() <= 0 {
		return fmt.Errorf("workers.start_timeout must be a positive duration")
	}
	if c.GetStopTimeout() <= 0 {
		return fmt.Errorf("workers.stop_timeout must be a positive duration")
	}

	if c.Safety.MinClearanceM <= 0 {
		return fmt.Errorf("safety.min_clearance_m must be > 0")
	}

	for risk, level := range c.Trust.Required {
		if !types.RiskClass(risk).Valid() {
			return fmt.Errorf("trust.required: unknown risk class %q", risk)
		}
		if _, err := types.ParseTrustLevel(level); err != nil {
			return fmt.Errorf("trust.required[%s]: %w", risk, err)
		}
	}
	if c.Trust.Owner == "" {
		return fmt.Errorf("trust.owner must name the identity used for CLI actions")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	// Simulated runs never reach a real LLM endpoint
	if !c.Workers.Simulate && c.Agent.Enabled() && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY, GEMINI_API_KEY, or BOT_API_KEY)")
	}

	return c.ValidateCoreLimits()
}

// RequiredTrust resolves the configured minimum trust per risk class,
// falling back to the built-in defaults for risks the config omits.
func (c *Config) RequiredTrust() map[types.RiskClass]types.TrustLevel {
	required := types.DefaultRequiredTrust()
	for risk, level := range c.Trust.Required {
		parsed, err := types.ParseTrustLevel(level)
		if err != nil {
			continue // Validate rejects these before the gate sees them
		}
		required[types.RiskClass(risk)] = parsed
	}
	return required
}
