package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"botnerd/internal/types"
	"botnerd/internal/workers"
)

// consoleCmd runs the robot with an interactive dashboard
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the robot with an interactive dashboard",
	Long: `Starts the full worker set and attaches a terminal dashboard: worker
states, runtime flags, the display worker's current face, and the live
message stream. Typed text is fed to the dialogue agent as the configured
owner, so commands still pass the action gate.

Press Esc or Ctrl+C to stop the robot and exit.`,
	RunE: runConsole,
}

const consoleEventLimit = 14

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	paneStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	crashedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	deniedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	speechStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

// consoleModel is the bubbletea model over one running system.
type consoleModel struct {
	sys   *system
	tap   chan types.Message
	input textinput.Model

	events  []string
	width   int
	failed  map[string]error
	quitted bool
}

// busMsg delivers one bus message into the Update loop.
type busMsg types.Message

// refreshMsg redraws worker states and flags.
type refreshMsg time.Time

func newConsoleModel(sys *system, failed map[string]error) consoleModel {
	input := textinput.New()
	input.Placeholder = "say something to the robot..."
	input.Prompt = "> "
	input.CharLimit = 200
	input.Focus()

	return consoleModel{
		sys:    sys,
		tap:    make(chan types.Message, 256),
		input:  input,
		failed: failed,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(m.waitBus(), m.refreshTick(), textinput.Blink)
}

// waitBus blocks on the console's bus inbox.
func (m consoleModel) waitBus() tea.Cmd {
	return func() tea.Msg {
		return busMsg(<-m.tap)
	}
}

func (m consoleModel) refreshTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitted = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text != "" {
				m.submit(text)
			}
			return m, nil
		}

	case busMsg:
		m.record(types.Message(msg))
		return m, m.waitBus()

	case refreshMsg:
		return m, m.refreshTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit feeds typed text to the agent as the configured owner.
func (m *consoleModel) submit(text string) {
	owner := m.sys.cfg.Trust.Owner
	level := m.sys.st.Trust().Lookup(owner)
	sighting := types.IdentitySighting{IdentityID: owner, DisplayName: owner, Trust: level, Confidence: 1.0}
	_ = m.sys.bus.Publish(types.NewMessage(types.KindIdentityObserved, "console", sighting))

	utterance := types.NewCorrelated(types.KindUtteranceTranscribed, "console",
		types.UtteranceTranscribed{Text: text}, types.NewCorrelationID())
	if err := m.sys.bus.Publish(utterance); err != nil {
		m.push(deniedStyle.Render(fmt.Sprintf("publish failed: %v", err)))
	}
}

// record turns a bus message into one event line.
func (m *consoleModel) record(msg types.Message) {
	var line string
	switch msg.Kind {
	case types.KindDistanceReading, types.KindMotionState,
		types.KindListeningState, types.KindThinkingState, types.KindChimeState:
		return // high-frequency state noise, shown in the flags pane instead
	case types.KindSpeechRequested:
		line = speechStyle.Render("bot: " + msg.Payload.(types.SpeechRequest).Text)
	case types.KindUtteranceTranscribed:
		line = "you: " + msg.Payload.(types.UtteranceTranscribed).Text
	case types.KindCommandRequested:
		cmd := msg.Payload.(types.Command)
		line = runningStyle.Render(fmt.Sprintf("gate ✓ %s/%s for %s", cmd.Risk, cmd.Verb, cmd.RequestedBy))
	case types.KindCommandDenied:
		d := msg.Payload.(types.CommandDenied)
		line = deniedStyle.Render(fmt.Sprintf("gate ✗ %s/%s for %s: %s", d.Risk, d.Verb, d.IdentityID, d.Reason))
	case types.KindWorkerFault:
		f := msg.Payload.(types.WorkerFault)
		line = crashedStyle.Render(fmt.Sprintf("fault [%s] %s", f.Worker, f.Err))
	case types.KindIdentityObserved:
		s := msg.Payload.(types.IdentitySighting)
		if s.Unknown() {
			line = "sighting: unknown face"
		} else {
			line = fmt.Sprintf("sighting: %s (%s)", s.DisplayName, s.Trust)
		}
	case types.KindRegisterResult:
		r := msg.Payload.(types.RegisterResult)
		if r.OK {
			line = runningStyle.Render(fmt.Sprintf("enrolled %s as %s (%d samples)", r.Name, r.Level, r.Samples))
		} else {
			line = deniedStyle.Render(fmt.Sprintf("enrollment of %s failed: %s", r.Name, r.Err))
		}
	default:
		line = fmt.Sprintf("%s from %s", msg.Kind, msg.Source)
	}
	m.push(fmt.Sprintf("%s %s", labelStyle.Render(msg.CreatedAt.Format("15:04:05")), line))
}

func (m *consoleModel) push(line string) {
	m.events = append(m.events, line)
	if len(m.events) > consoleEventLimit {
		m.events = m.events[len(m.events)-consoleEventLimit:]
	}
}

func (m consoleModel) View() string {
	if m.quitted {
		return "stopping workers...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("botnerd console"))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(m.workerPane()),
		" ",
		paneStyle.Render(m.statePane()),
	))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.eventPane()))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("enter: send to agent · esc: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m consoleModel) workerPane() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("workers"))
	b.WriteString("\n")
	for _, w := range m.sys.mgr.Workers() {
		state := w.State()
		style := stoppedStyle
		switch state {
		case workers.StateRunning:
			style = runningStyle
		case workers.StateCrashed:
			style = crashedStyle
		}
		b.WriteString(fmt.Sprintf("%-8s %s\n", w.Name(), style.Render(string(state))))
	}
	for name := range m.failed {
		b.WriteString(fmt.Sprintf("%-8s %s\n", name, crashedStyle.Render("failed")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m consoleModel) statePane() string {
	snap := m.sys.flags.Snapshot()
	emotion, subtitle := m.sys.sims.renderer.Last()

	var b strings.Builder
	b.WriteString(labelStyle.Render("state"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("face      %s\n", emotion))
	b.WriteString(fmt.Sprintf("subtitle  %s\n", subtitle))
	b.WriteString(fmt.Sprintf("speaking  %v\n", snap.Speaking))
	b.WriteString(fmt.Sprintf("moving    %v\n", snap.Moving))
	b.WriteString(fmt.Sprintf("thinking  %v\n", snap.Thinking))
	b.WriteString(fmt.Sprintf("chime     %v\n", snap.ChimeActive))
	b.WriteString(fmt.Sprintf("interlock %v", m.sys.gate.InterlockActive()))
	return b.String()
}

func (m consoleModel) eventPane() string {
	if len(m.events) == 0 {
		return labelStyle.Render("waiting for messages...")
	}
	return strings.Join(m.events, "\n")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	defer sys.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := sys.start(ctx)
	if err != nil {
		return fmt.Errorf("startup aborted: %w", err)
	}
	if len(report.Started) == 0 {
		return fmt.Errorf("no worker started (%d failed)", len(report.Failed))
	}

	model := newConsoleModel(sys, report.Failed)
	if err := sys.bus.Attach("console", model.tap); err != nil {
		return fmt.Errorf("failed to attach console to bus: %w", err)
	}
	defer sys.bus.Detach("console")

	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("console failed: %w", err)
	}
	return nil
}
