package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

var (
	gateRisk     string
	gateIdentity string
	gateVerb     string
	gateDistance float64
)

// gateCmd groups action gate diagnostics
var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Action gate diagnostics",
}

var gateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run one command through the action gate",
	Long: `Evaluates a hypothetical command against the live trust store and the
policy rules, without publishing anything. Use --distance to model a
ranging reading; omit it to model a scene with no obstacle data.

Examples:
  bot gate check --risk admin --identity guest-42
  bot gate check --risk physical_motion --identity marta --distance 0.05`,
	RunE: runGateCheck,
}

func init() {
	gateCheckCmd.Flags().StringVar(&gateRisk, "risk", "", "Risk class: read_only, low_risk_output, physical_motion, admin (required)")
	gateCheckCmd.Flags().StringVar(&gateIdentity, "identity", "", "Requesting identity (empty models an unknown speaker)")
	gateCheckCmd.Flags().StringVar(&gateVerb, "verb", "forward", "Command verb")
	gateCheckCmd.Flags().Float64Var(&gateDistance, "distance", -1, "Simulated clearance in meters (-1: no reading)")
	gateCheckCmd.MarkFlagRequired("risk")

	gateCmd.AddCommand(gateCheckCmd)
}

func runGateCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	risk := types.RiskClass(gateRisk)
	if !risk.Valid() {
		return fmt.Errorf("unknown risk class %q (valid: %v)", gateRisk, types.AllRiskClasses())
	}

	st, err := store.Open(cfg.Trust.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Evaluate-only gate: nil publisher, decisions never leave this process.
	gate := trust.NewGate(trust.NewPolicyKernel(), st.Trust(), cfg, nil)
	if gateDistance >= 0 {
		gate.UpdateClearance(gateDistance)
	}

	decision := gate.Evaluate(types.Command{
		Risk:        risk,
		Verb:        gateVerb,
		RequestedBy: gateIdentity,
	})

	level := st.Trust().Lookup(gateIdentity)
	fmt.Printf("Identity: %s (trust %s)\n", displayIdentity(gateIdentity), level)
	fmt.Printf("Command:  %s/%s\n", risk, gateVerb)
	if gateDistance >= 0 {
		fmt.Printf("Clearance: %.2fm (interlock %v, minimum %.2fm)\n",
			gateDistance, gate.InterlockActive(), cfg.Safety.MinClearanceM)
	} else {
		fmt.Println("Clearance: no reading")
	}
	if decision.Allow {
		fmt.Printf("✓ allow: %s\n", decision.Reason)
	} else if decision.Vetoed {
		fmt.Printf("✗ deny (safety veto): %s\n", decision.Reason)
	} else {
		fmt.Printf("✗ deny: %s\n", decision.Reason)
	}
	return nil
}

func displayIdentity(id string) string {
	if id == "" {
		return "(unknown)"
	}
	return id
}
