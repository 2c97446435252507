package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"botnerd/internal/types"
)

var askIdentity string

// askCmd runs one utterance through the dialogue pipeline
var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Ask the agent one question through the gate pipeline",
	Long: `Feeds one utterance to the dialogue agent as if it had been spoken,
waits for the reply, and renders it. Commands the text produces still pass
the action gate; denials are reported instead of executed.

The speaker defaults to the configured owner identity. Use --as to ask as
somebody else and observe the gate's decision for their trust level.

Example:
  bot ask "what time is it"
  bot ask --as guest-42 "go forward"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askIdentity, "as", "", "Identity the utterance is attributed to (default: configured owner)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot surface: no microphone, no wake phrase, just the agent.
	cfg.Workers.Enabled = map[string]bool{"agent": true, "motion": true, "buzzer": true}
	cfg.Agent.Filler = false

	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	defer sys.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := sys.start(ctx)
	if err != nil {
		return fmt.Errorf("startup aborted: %w", err)
	}
	if initErr, ok := report.Failed["agent"]; ok {
		return fmt.Errorf("agent unavailable: %w", initErr)
	}

	// Tap the bus before publishing so the reply cannot be missed.
	tap := make(chan types.Message, 128)
	if err := sys.bus.Attach("ask-cli", tap); err != nil {
		return fmt.Errorf("failed to attach to bus: %w", err)
	}
	defer sys.bus.Detach("ask-cli")

	speaker := askIdentity
	if speaker == "" {
		speaker = cfg.Trust.Owner
	}
	level := sys.st.Trust().Lookup(speaker)
	sighting := types.IdentitySighting{IdentityID: speaker, DisplayName: speaker, Trust: level, Confidence: 1.0}
	if err := sys.bus.Publish(types.NewMessage(types.KindIdentityObserved, "ask-cli", sighting)); err != nil {
		return fmt.Errorf("failed to publish sighting: %w", err)
	}

	text := strings.Join(args, " ")
	correlationID := types.NewCorrelationID()
	utterance := types.NewCorrelated(types.KindUtteranceTranscribed, "ask-cli",
		types.UtteranceTranscribed{Text: text}, correlationID)
	if err := sys.bus.Publish(utterance); err != nil {
		return fmt.Errorf("failed to publish utterance: %w", err)
	}

	reply, denial, err := awaitReply(ctx, tap, correlationID)
	if err != nil {
		return err
	}

	if denial != nil {
		fmt.Printf("✗ denied: %s (%s/%s for %s)\n", denial.Reason, denial.Risk, denial.Verb, denial.IdentityID)
	}
	if reply != "" {
		rendered, rerr := glamour.Render(reply, "auto")
		if rerr != nil {
			fmt.Println(reply)
		} else {
			fmt.Print(rendered)
		}
	}
	return nil
}

// awaitReply pumps the tap until the agent's reply (and any denial) for the
// correlation id arrives. The agent always speaks, even on a denial, so the
// speech request is the terminal message.
func awaitReply(ctx context.Context, tap <-chan types.Message, correlationID string) (string, *types.CommandDenied, error) {
	var denial *types.CommandDenied
	for {
		select {
		case msg := <-tap:
			if msg.CorrelationID != correlationID {
				continue
			}
			switch msg.Kind {
			case types.KindCommandDenied:
				d := msg.Payload.(types.CommandDenied)
				denial = &d
			case types.KindCommandRequested:
				cmd := msg.Payload.(types.Command)
				fmt.Printf("✓ approved: %s/%s\n", cmd.Risk, cmd.Verb)
			case types.KindSpeechRequested:
				return msg.Payload.(types.SpeechRequest).Text, denial, nil
			}
		case <-ctx.Done():
			return "", denial, fmt.Errorf("no reply within %v", timeout)
		}
	}
}
