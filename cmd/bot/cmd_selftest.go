package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"botnerd/internal/bus"
	"botnerd/internal/config"
	"botnerd/internal/llm"
	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

// selftestCmd exercises the coordination core with simulated collaborators
var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise bus, store, gate and pipeline with simulated collaborators",
	Long: `Runs the coordination core against a throwaway database and the
simulated collaborator set: bus ordering, trust store round trips, gate
decisions including the ranging veto, and a spoken exchange end to end.

The LLM reachability check runs only when an API key is configured and
--sim is not set; everything else is hardware-free.`,
	RunE: runSelftest,
}

type checkResult struct {
	name string
	err  error
}

func runSelftest(cmd *cobra.Command, args []string) error {
	// The self test must run on a bare machine: without an API key there is
	// nothing to ping, so fall back to simulated mode instead of failing
	// config validation.
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("BOT_API_KEY") == "" {
		simulate = true
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "botnerd-selftest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	checks := map[string]func(context.Context, *config.Config, string) error{
		"policy kernel":  checkPolicyKernel,
		"trust store":    checkTrustStore,
		"bus ordering":   checkBusOrdering,
		"gate decisions": checkGateDecisions,
		"sim pipeline":   checkSimPipeline,
	}
	if !cfg.Workers.Simulate && cfg.LLM.APIKey != "" {
		checks["llm reachability"] = checkLLM
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	var results []checkResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(gctx, cfg, tmpDir)
			mu.Lock()
			results = append(results, checkResult{name: name, err: err})
			mu.Unlock()
			// Failures are collected, not fatal to the group.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].name < results[j].name })
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("✗ %-18s %v\n", r.name, r.err)
		} else {
			fmt.Printf("✓ %s\n", r.name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d checks failed", failed, len(results))
	}
	fmt.Printf("\nAll %d checks passed.\n", len(results))
	return nil
}

// checkPolicyKernel evaluates the embedded rules against a known fact set.
func checkPolicyKernel(ctx context.Context, cfg *config.Config, tmpDir string) error {
	kernel := trust.NewPolicyKernel()
	facts := []trust.Fact{
		{Predicate: "request", Args: []interface{}{"/cmd", "tester", "/admin"}},
		{Predicate: "trust_rank", Args: []interface{}{"tester", int64(types.TrustOwner)}},
		{Predicate: "required_rank", Args: []interface{}{"/admin", int64(types.TrustOwner)}},
		{Predicate: "min_clearance_mm", Args: []interface{}{int64(250)}},
	}
	out, err := kernel.Eval(facts, "permit", "veto")
	if err != nil {
		return fmt.Errorf("eval failed: %w", err)
	}
	if len(out["permit"]) == 0 {
		return fmt.Errorf("owner admin request did not derive permit")
	}
	if len(out["veto"]) != 0 {
		return fmt.Errorf("unexpected veto with no clearance fact")
	}
	return nil
}

// checkTrustStore exercises persistence: upsert, lookup, idempotent update.
func checkTrustStore(ctx context.Context, cfg *config.Config, tmpDir string) error {
	st, err := store.Open(filepath.Join(tmpDir, "trust-check.db"))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer st.Close()

	registrar := trust.NewRegistrar(st.Trust())
	if err := registrar.Bootstrap("self-owner"); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := registrar.Register("probe", "Probe", types.TrustGuest, "self-owner"); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := registrar.Register("probe", "Probe", types.TrustKnown, "self-owner"); err != nil {
		return fmt.Errorf("re-register: %w", err)
	}
	if got := st.Trust().Lookup("probe"); got != types.TrustKnown {
		return fmt.Errorf("lookup after update: got %s, want %s", got, types.TrustKnown)
	}
	if count, err := st.Trust().Count(); err != nil || count != 2 {
		return fmt.Errorf("re-register duplicated: count=%d err=%v", count, err)
	}
	if err := registrar.Register("intruder", "Intruder", types.TrustOwner, "probe"); err == nil {
		return fmt.Errorf("non-owner registration was not denied")
	}
	return nil
}

// checkBusOrdering verifies FIFO per publisher across two consumers.
func checkBusOrdering(ctx context.Context, cfg *config.Config, tmpDir string) error {
	const n = 200
	b := bus.New(cfg.GetPublishTimeout())
	first := make(chan types.Message, n)
	second := make(chan types.Message, n)
	if err := b.Attach("first", first); err != nil {
		return err
	}
	if err := b.Attach("second", second); err != nil {
		return err
	}
	defer b.Detach("first")
	defer b.Detach("second")

	for i := 0; i < n; i++ {
		msg := types.NewMessage(types.KindDistanceReading, "self-test", types.DistanceReading{Meters: float64(i)})
		if err := b.Publish(msg); err != nil {
			return fmt.Errorf("publish %d: %w", i, err)
		}
	}
	for name, ch := range map[string]chan types.Message{"first": first, "second": second} {
		for i := 0; i < n; i++ {
			select {
			case msg := <-ch:
				if got := msg.Payload.(types.DistanceReading).Meters; got != float64(i) {
					return fmt.Errorf("%s inbox out of order at %d: got %.0f", name, i, got)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// checkGateDecisions covers the trust matrix and the ranging veto.
func checkGateDecisions(ctx context.Context, cfg *config.Config, tmpDir string) error {
	st, err := store.Open(filepath.Join(tmpDir, "gate-check.db"))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer st.Close()

	seed := func(id string, level types.TrustLevel) error {
		return st.Trust().Upsert(types.TrustRecord{IdentityID: id, DisplayName: id, Level: level, RegisteredBy: "self-owner"})
	}
	if err := seed("self-owner", types.TrustOwner); err != nil {
		return err
	}
	if err := seed("guest-42", types.TrustGuest); err != nil {
		return err
	}

	gate := trust.NewGate(trust.NewPolicyKernel(), st.Trust(), cfg, nil)

	if d := gate.Evaluate(types.Command{Risk: types.RiskAdmin, Verb: "promote", RequestedBy: "guest-42"}); d.Allow {
		return fmt.Errorf("guest admin command was allowed")
	}
	if d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "self-owner"}); !d.Allow {
		return fmt.Errorf("owner motion with no reading denied: %s", d.Reason)
	}

	gate.UpdateClearance(0.05)
	d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "self-owner"})
	if d.Allow || !d.Vetoed {
		return fmt.Errorf("interlock did not veto owner motion (allow=%v vetoed=%v)", d.Allow, d.Vetoed)
	}

	gate.UpdateClearance(1.5)
	if d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "self-owner"}); !d.Allow {
		return fmt.Errorf("cleared interlock still denies: %s", d.Reason)
	}
	return nil
}

// checkSimPipeline runs one spoken exchange through audio, stt, agent and
// tts, asserting the correlation id survives the whole trip.
func checkSimPipeline(ctx context.Context, cfg *config.Config, tmpDir string) error {
	pipeCfg := *cfg
	pipeCfg.Workers.Simulate = true
	pipeCfg.Trust.DBPath = filepath.Join(tmpDir, "pipeline-check.db")
	pipeCfg.Audio.WakeProbe = "50ms"
	pipeCfg.Audio.CaptureMax = "300ms"
	pipeCfg.Agent.Filler = false
	pipeCfg.Workers.Enabled = map[string]bool{
		"audio": true, "stt": true, "agent": true, "tts": true, "state": true,
	}

	sys, err := buildSystem(&pipeCfg)
	if err != nil {
		return err
	}
	defer sys.shutdown()

	report, err := sys.start(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if !report.AllStarted() {
		return fmt.Errorf("workers failed to start: %v", report.Failed)
	}

	tap := make(chan types.Message, 256)
	if err := sys.bus.Attach("selftest-tap", tap); err != nil {
		return err
	}
	defer sys.bus.Detach("selftest-tap")

	sys.sims.transcriber.Script("probe-1", "hello there")
	wake := types.NewMessage(types.KindWakeDetected, "selftest",
		types.WakeDetected{Text: "hey bot", OpenFor: 10 * time.Second})
	if err := sys.bus.Publish(wake); err != nil {
		return err
	}
	sys.sims.capturer.Say("probe-1")

	var correlationID string
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg := <-tap:
			switch msg.Kind {
			case types.KindUtteranceCaptured:
				correlationID = msg.CorrelationID
				if correlationID == "" {
					return fmt.Errorf("capture minted no correlation id")
				}
			case types.KindSpeechFinished:
				if msg.CorrelationID != correlationID {
					return fmt.Errorf("correlation id changed in flight: %q vs %q", msg.CorrelationID, correlationID)
				}
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no speech_finished within 10s")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkLLM pings the configured inference endpoint.
func checkLLM(ctx context.Context, cfg *config.Config, tmpDir string) error {
	client, err := llm.New(cfg)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetLLMTimeout())
	defer cancel()
	return client.Ping(pingCtx)
}
