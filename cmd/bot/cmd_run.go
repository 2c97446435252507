package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"botnerd/internal/bus"
	"botnerd/internal/config"
	"botnerd/internal/llm"
	"botnerd/internal/logging"
	"botnerd/internal/state"
	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
	"botnerd/internal/workers"
)

// runCmd starts the full worker set until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the robot: bus, gate and every enabled worker",
	Long: `Starts the message bus, the trust store, the action gate and every
enabled worker, then runs until SIGINT/SIGTERM.

With --sim every hardware collaborator is replaced by its simulated twin
and the dialogue agent answers from its quick rules only (no LLM calls).
Hardware driver processes attach behind the collaborator interfaces; this
build ships the simulated set.`,
	RunE: runRobot,
}

// system is one assembled instance of the coordination core: store, gate,
// bus, manager and the collaborator set behind the workers.
type system struct {
	cfg       *config.Config
	st        *store.Store
	bus       *bus.Bus
	kernel    *trust.PolicyKernel
	gate      *trust.Gate
	registrar *trust.Registrar
	flags     *state.Flags
	mgr       *workers.Manager
	watcher   *trust.RulesWatcher
	sims      *simSet
}

// simSet holds the simulated collaborators so the console and the self
// test can script them while the workers run.
type simSet struct {
	recognizer  *workers.SimRecognizer
	capturer    *workers.SimCapturer
	transcriber *workers.SimTranscriber
	speaker     *workers.SimSpeaker
	driver      *workers.SimDriver
	sensor      *workers.SimRangeSensor
	renderer    *workers.SimRenderer
	beeper      *workers.SimBeeper
}

func newSimSet() *simSet {
	return &simSet{
		recognizer:  workers.NewSimRecognizer(),
		capturer:    workers.NewSimCapturer(),
		transcriber: workers.NewSimTranscriber(),
		speaker:     workers.NewSimSpeaker(),
		driver:      workers.NewSimDriver(),
		sensor:      workers.NewSimRangeSensor(1.5),
		renderer:    workers.NewSimRenderer(),
		beeper:      workers.NewSimBeeper(),
	}
}

// buildSystem assembles the core. The caller owns shutdown: StopAll on the
// manager, Stop on the watcher, Close on the store.
func buildSystem(cfg *config.Config) (*system, error) {
	st, err := store.Open(cfg.Trust.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	b := bus.New(cfg.GetPublishTimeout())
	kernel := trust.NewPolicyKernel()
	gate := trust.NewGate(kernel, st.Trust(), cfg, b)
	registrar := trust.NewRegistrar(st.Trust())

	// First run seeds the CLI owner identity so enroll/trust commands and
	// spoken registrations have an authorizer. No-op once any owner exists.
	if err := registrar.Bootstrap(cfg.Trust.Owner); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to bootstrap owner: %w", err)
	}

	sys := &system{
		cfg:       cfg,
		st:        st,
		bus:       b,
		kernel:    kernel,
		gate:      gate,
		registrar: registrar,
		flags:     state.New(),
		mgr:       workers.NewManager(cfg, b),
		sims:      newSimSet(),
	}

	if cfg.Trust.RulesPath != "" {
		watcher, err := trust.NewRulesWatcher(cfg.Trust.RulesPath, kernel)
		if err != nil {
			logging.TrustWarn("Rules watcher unavailable: %v", err)
		} else {
			sys.watcher = watcher
		}
	}

	var client types.LLMClient
	if !cfg.Workers.Simulate {
		client, err = llm.New(cfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to build LLM client: %w", err)
		}
		sys.mgr.SetLLMClient(client)
	}
	sys.addWorkers(client)

	return sys, nil
}

// addWorkers registers every enabled worker with the manager, wired to the
// simulated collaborator set.
func (s *system) addWorkers(client types.LLMClient) {
	cfg, b := s.cfg, s.bus
	if cfg.WorkerEnabled("state") {
		s.mgr.Add(workers.NewStateWorker(cfg, b, s.flags))
	}
	if cfg.WorkerEnabled("ranging") {
		s.mgr.Add(workers.NewRangingWorker(cfg, b, s.sims.sensor, s.gate))
	}
	if cfg.WorkerEnabled("vision") {
		s.mgr.Add(workers.NewVisionWorker(cfg, b, s.sims.recognizer, s.st.Faces(), s.st.Trust()))
	}
	if cfg.WorkerEnabled("audio") {
		s.mgr.Add(workers.NewAudioWorker(cfg, b, s.sims.capturer, s.flags))
	}
	if cfg.WorkerEnabled("stt") {
		s.mgr.Add(workers.NewSTTWorker(cfg, b, s.sims.transcriber))
	}
	if cfg.WorkerEnabled("agent") {
		s.mgr.Add(workers.NewAgentWorker(cfg, b, client, s.gate, s.registrar, s.st.Trust()))
	}
	if cfg.WorkerEnabled("tts") && cfg.TTS.Enabled {
		s.mgr.Add(workers.NewTTSWorker(cfg, b, s.sims.speaker))
	}
	if cfg.WorkerEnabled("motion") {
		s.mgr.Add(workers.NewMotionWorker(cfg, b, s.sims.driver))
	}
	if cfg.WorkerEnabled("display") {
		s.mgr.Add(workers.NewDisplayWorker(cfg, b, s.sims.renderer))
	}
	if cfg.WorkerEnabled("buzzer") {
		s.mgr.Add(workers.NewBuzzerWorker(cfg, b, s.sims.beeper))
	}
}

// start brings the system up and reports partial failures.
func (s *system) start(ctx context.Context) (workers.StartReport, error) {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			logging.TrustWarn("Rules watcher start failed: %v", err)
			s.watcher = nil
		}
	}
	return s.mgr.StartAll(ctx)
}

// shutdown stops everything in reverse dependency order.
func (s *system) shutdown() {
	s.mgr.StopAll(s.cfg.GetStopTimeout())
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.st.Close(); err != nil {
		logging.StoreWarn("Store close: %v", err)
	}
	logging.CloseAll()
}

func runRobot(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting botnerd",
		zap.String("workspace", ws),
		zap.Bool("simulate", cfg.Workers.Simulate))

	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	defer sys.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	report, err := sys.start(ctx)
	if err != nil {
		return fmt.Errorf("startup aborted: %w", err)
	}
	for name, startErr := range report.Failed {
		logger.Warn("Worker failed to start", zap.String("worker", name), zap.Error(startErr))
	}
	if len(report.Started) == 0 {
		return fmt.Errorf("no worker started (%d failed)", len(report.Failed))
	}
	logger.Info("Workers running",
		zap.Strings("started", report.Started),
		zap.Int("failed", len(report.Failed)))

	<-ctx.Done()
	logger.Info("Stopping workers", zap.Duration("grace", cfg.GetStopTimeout()))
	return nil
}
