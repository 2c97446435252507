package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/store"
	"botnerd/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	simulate   bool
	timeout    time.Duration

	// Logger for the CLI surface. Internal packages log through
	// internal/logging; zap covers the command output side.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "botnerd - trust-gated robot coordination core",
	Long: `botnerd coordinates a fixed set of hardware- and AI-facing workers
(vision, audio, speech-to-text, dialogue, text-to-speech, motion, display,
buzzer, ranging) over a broadcast message bus.

Every physical or administrative command passes an action gate that checks
the requesting identity's trust level and the ranging safety interlock
before any actuator sees it.

Run without arguments to start the interactive console.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The console owns the terminal; skip the zap surface for it.
		if cmd.Use == "bot" && cmd.CalledAs() == "bot" {
			return nil
		}
		if cmd.Name() == "console" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: launch the interactive console.
		return runConsole(cmd, args)
	},
}

// statusCmd shows configuration and store state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show botnerd configuration and store status",
	RunE:  showStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.bot/bot.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "sim", false, "Use simulated collaborators (no hardware, no LLM)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout for one-shot commands")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace picks the workspace directory: flag, marker-file
// discovery, then the current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	if root, err := config.FindWorkspaceRoot(); err == nil {
		return root
	}
	cwd, _ := os.Getwd()
	return cwd
}

// loadConfig loads the effective configuration for this invocation and
// initializes the category file logger.
func loadConfig() (*config.Config, string, error) {
	ws := resolveWorkspace()
	path := configPath
	if path == "" {
		path = ws + "/.bot/bot.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, ws, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if simulate {
		cfg.Workers.Simulate = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, ws, fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Initialize(ws); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging init: %v\n", err)
	}
	return cfg, ws, nil
}

// showStatus displays configuration and store state
func showStatus(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("botnerd Status")
	fmt.Println("==============")
	fmt.Printf("Version:   %s\n", cfg.Version)
	fmt.Printf("Workspace: %s\n", ws)
	fmt.Printf("Database:  %s\n", cfg.Trust.DBPath)
	fmt.Printf("Simulate:  %v\n", cfg.Workers.Simulate)
	fmt.Printf("LLM:       %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.LLM.APIKey != "" {
		fmt.Println("✓ LLM API key configured")
	} else {
		fmt.Println("✗ LLM API key not configured")
	}
	fmt.Println()

	st, err := store.Open(cfg.Trust.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return fmt.Errorf("failed to read store stats: %w", err)
	}
	fmt.Printf("✓ Store: %s (vec extension: %v)\n", st.Path(), st.HasVectorExt())
	fmt.Printf("  Trust records:   %d\n", stats["trust_records"])
	fmt.Printf("  Face embeddings: %d\n", stats["face_embeddings"])

	hasOwner, err := st.Trust().HasOwner()
	if err != nil {
		return fmt.Errorf("failed to check owner: %w", err)
	}
	if hasOwner {
		fmt.Println("✓ Owner identity registered")
	} else {
		fmt.Printf("✗ No owner yet (first run of 'bot run' bootstraps %q)\n", cfg.Trust.Owner)
	}

	fmt.Println()
	fmt.Printf("Required trust per risk class:\n")
	required := cfg.RequiredTrust()
	for _, risk := range types.AllRiskClasses() {
		fmt.Printf("  %-16s %s\n", risk, required[risk])
	}
	fmt.Printf("Ranging interlock: veto physical_motion below %.2fm\n", cfg.Safety.MinClearanceM)
	return nil
}
