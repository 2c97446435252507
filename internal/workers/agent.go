package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

// agentTick drives registration-flow deadlines.
const agentTick = 500 * time.Millisecond

// speakerHold is how long the last stable sighting counts as the current
// speaker. Presence hold keeps sightings flowing while someone is actually
// there, so this only expires once they have genuinely left.
const speakerHold = 10 * time.Second

// agentSystemPrompt shapes every language model call. The model must answer
// with a single JSON decision; anything else is treated as plain chat.
const agentSystemPrompt = `You are the voice of a small home robot on wheels.
You are friendly, brief, and a little playful. Answer in one or two short
spoken sentences, never lists or markdown.

You control the robot by answering with ONE JSON object and nothing else:
  {"type":"chat","speak":"<what to say>"}
  {"type":"command","command":"<verb>","speak":"<short acknowledgement>","requires_trust":"<level>"}

Command verbs: forward, backward, left, right, stop, follow, pan_left,
pan_right, pan_center, beep. Use a command only when the user clearly asks
for a physical action; when in doubt, chat.

Examples:
User: could you come forward a bit
{"type":"command","command":"forward","speak":"Rolling forward.","requires_trust":"known"}
User: what's your favourite colour
{"type":"chat","speak":"Firmware blue, obviously."}
User: quit following me
{"type":"command","command":"stop","speak":"Okay, staying put.","requires_trust":"known"}`

// llmDecision is the JSON shape the model is asked for. RequiresTrust is the
// model's own guess and is logged only; the risk class that reaches the gate
// is always derived from the verb table here.
type llmDecision struct {
	Type          string `json:"type"`
	Speak         string `json:"speak"`
	Command       string `json:"command"`
	RequiresTrust string `json:"requires_trust"`
}

// agentDecision is the normalized outcome of either the quick rules or the
// language model: something to say, and optionally a command for the gate.
type agentDecision struct {
	speak string
	cmd   *types.Command
}

// exchange is one remembered user/bot turn.
type exchange struct {
	user string
	bot  string
}

// regStage tracks where a spoken registration currently is.
type regStage int

const (
	regCountdown regStage = iota
	regCapturing
)

// registration is an in-flight spoken enrollment.
type registration struct {
	name          string
	level         types.TrustLevel
	requestedBy   string
	correlationID string
	stage         regStage
	captureStart  time.Time
	deadline      time.Time
}

// AgentWorker is the dialogue brain. It turns transcribed utterances into
// speech and gated commands, using cheap word rules where they suffice and
// the language model for everything else. It also runs the spoken
// registration flow end to end. All physical and admin effects go through
// the gate with the current speaker as the requesting identity.
type AgentWorker struct {
	*BaseWorker
	cfg       *config.Config
	llm       types.LLMClient
	gate      *trust.Gate
	registrar *trust.Registrar
	trust     *store.TrustStore

	// Dialogue state. Only touched from the worker goroutine.
	speaker   types.IdentitySighting
	speakerAt time.Time
	history   []exchange
	fillerIdx int
	reg       *registration
}

// NewAgentWorker wires the language model, the gate and the registrar.
func NewAgentWorker(cfg *config.Config, bus types.Publisher, llm types.LLMClient, gate *trust.Gate, registrar *trust.Registrar, trustStore *store.TrustStore) *AgentWorker {
	return &AgentWorker{
		BaseWorker: NewBase("agent", cfg.Bus.InboxSize, bus),
		cfg:        cfg,
		llm:        llm,
		gate:       gate,
		registrar:  registrar,
		trust:      trustStore,
	}
}

func (w *AgentWorker) AcceptedKinds() []types.Kind {
	return []types.Kind{
		types.KindUtteranceTranscribed,
		types.KindIdentityObserved,
		types.KindChimeState,
		types.KindRegisterResult,
	}
}

func (w *AgentWorker) TickInterval() time.Duration { return agentTick }

// OnTick advances the registration flow past its time bounds: the chime
// countdown completing is normally signalled by chime_state, but that kind
// is lossy, so the flow never depends on it alone.
func (w *AgentWorker) OnTick(ctx context.Context) error {
	if w.reg == nil {
		return nil
	}
	now := time.Now()
	if now.After(w.reg.deadline) {
		logging.AgentWarn("Registration of %q timed out", w.reg.name)
		w.say("Sorry, registration timed out. Let's try again later.", w.reg.correlationID)
		w.reg = nil
		return nil
	}
	if w.reg.stage == regCountdown && now.After(w.reg.captureStart) {
		w.beginCapture()
	}
	return nil
}

func (w *AgentWorker) OnMessage(ctx context.Context, msg types.Message) error {
	switch msg.Kind {
	case types.KindIdentityObserved:
		if s, ok := msg.Payload.(types.IdentitySighting); ok {
			w.speaker = s
			w.speakerAt = time.Now()
		}
		return nil
	case types.KindChimeState:
		if p, ok := msg.Payload.(types.ChimeState); ok && !p.Active {
			if w.reg != nil && w.reg.stage == regCountdown {
				w.beginCapture()
			}
		}
		return nil
	case types.KindRegisterResult:
		if p, ok := msg.Payload.(types.RegisterResult); ok {
			w.finishRegistration(p)
		}
		return nil
	case types.KindUtteranceTranscribed:
		p, ok := msg.Payload.(types.UtteranceTranscribed)
		if !ok {
			return nil
		}
		return w.handleUtterance(ctx, p.Text, msg.CorrelationID)
	}
	return nil
}

// handleUtterance is the main decision path for one piece of user speech.
func (w *AgentWorker) handleUtterance(ctx context.Context, text, correlationID string) error {
	speaker := w.currentSpeaker()
	norm := normalizeSpeech(text)
	logging.Agent("Heard %q from %q (trust %s) [%s]", text, speaker.IdentityID, speaker.Trust, correlationID)

	if intent, ok := parseAdminIntent(norm); ok {
		w.handleAdmin(intent, speaker, correlationID)
		return nil
	}

	if dec, ok := w.quickDecision(norm, speaker); ok {
		logging.AgentDebug("Quick rule answered %q", norm)
		w.execute(dec, text, speaker, correlationID)
		return nil
	}

	dec, err := w.llmDecide(ctx, text, speaker, correlationID)
	w.execute(dec, text, speaker, correlationID)
	if err != nil {
		return fmt.Errorf("llm decision failed: %w", err)
	}
	return nil
}

// currentSpeaker returns the sighting that counts as the person talking, or
// a zero sighting when nobody has been seen recently.
func (w *AgentWorker) currentSpeaker() types.IdentitySighting {
	if w.speakerAt.IsZero() || time.Since(w.speakerAt) > speakerHold {
		return types.IdentitySighting{}
	}
	return w.speaker
}

// =============================================================================
// QUICK RULES
// =============================================================================

// quickCommands maps exact short imperatives to commands. Only whole
// utterances match, so "that's right" never turns the robot.
var quickCommands = map[string]types.Command{
	"stop":          {Risk: types.RiskMotion, Verb: types.VerbStop},
	"halt":          {Risk: types.RiskMotion, Verb: types.VerbStop},
	"stop moving":   {Risk: types.RiskMotion, Verb: types.VerbStop},
	"forward":       {Risk: types.RiskMotion, Verb: types.VerbForward},
	"go forward":    {Risk: types.RiskMotion, Verb: types.VerbForward},
	"move forward":  {Risk: types.RiskMotion, Verb: types.VerbForward},
	"backward":      {Risk: types.RiskMotion, Verb: types.VerbBackward},
	"go back":       {Risk: types.RiskMotion, Verb: types.VerbBackward},
	"back up":       {Risk: types.RiskMotion, Verb: types.VerbBackward},
	"reverse":       {Risk: types.RiskMotion, Verb: types.VerbBackward},
	"turn left":     {Risk: types.RiskMotion, Verb: types.VerbLeft},
	"turn right":    {Risk: types.RiskMotion, Verb: types.VerbRight},
	"follow me":     {Risk: types.RiskMotion, Verb: types.VerbFollow},
	"follow":        {Risk: types.RiskMotion, Verb: types.VerbFollow},
	"look left":     {Risk: types.RiskMotion, Verb: types.VerbPan, Target: "left"},
	"look right":    {Risk: types.RiskMotion, Verb: types.VerbPan, Target: "right"},
	"look at me":    {Risk: types.RiskMotion, Verb: types.VerbPan, Target: "center"},
	"look straight": {Risk: types.RiskMotion, Verb: types.VerbPan, Target: "center"},
	"beep":          {Risk: types.RiskLowOutput, Verb: types.VerbBeep},
	"beep beep":     {Risk: types.RiskLowOutput, Verb: types.VerbBeep},
}

// quickDecision answers the utterances that never need a model round-trip.
func (w *AgentWorker) quickDecision(norm string, speaker types.IdentitySighting) (agentDecision, bool) {
	if cmd, ok := quickCommands[norm]; ok {
		return agentDecision{speak: "Okay.", cmd: &cmd}, true
	}

	switch norm {
	case "hello", "hi", "hey", "hi there", "hello there", "hey there":
		if speaker.DisplayName != "" {
			return agentDecision{speak: fmt.Sprintf("Hey %s!", speaker.DisplayName)}, true
		}
		return agentDecision{speak: "Hello!"}, true
	case "status", "system status":
		return agentDecision{speak: "All systems running."}, true
	}

	if strings.Contains(norm, "who am i") || norm == "do you know me" || strings.Contains(norm, "do you know who i am") {
		if speaker.DisplayName != "" {
			return agentDecision{speak: fmt.Sprintf("You're %s. Trust level %s.", speaker.DisplayName, speaker.Trust)}, true
		}
		return agentDecision{speak: "I don't recognize you yet. The owner can register you."}, true
	}
	if containsWord(norm, "thanks") || containsWord(norm, "thank") {
		return agentDecision{speak: "You're welcome!"}, true
	}
	if strings.Contains(norm, "what time") {
		return agentDecision{speak: time.Now().Format("It's 3:04 PM.")}, true
	}
	if strings.Contains(norm, "how are you") {
		return agentDecision{speak: "Running fine, thanks for asking."}, true
	}

	return agentDecision{}, false
}

func containsWord(norm, word string) bool {
	for _, f := range strings.Fields(norm) {
		if f == word {
			return true
		}
	}
	return false
}

// =============================================================================
// LANGUAGE MODEL PATH
// =============================================================================

// llmDecide asks the model for a decision. Thinking state brackets the call;
// a filler phrase covers the latency when enabled. Model failures and
// malformed replies both degrade to plain chat so the bot always answers.
func (w *AgentWorker) llmDecide(ctx context.Context, text string, speaker types.IdentitySighting, correlationID string) (agentDecision, error) {
	if w.llm == nil {
		return agentDecision{speak: "My language brain is not configured."}, nil
	}

	if err := w.Publish(types.KindThinkingState, types.ThinkingState{Active: true}); err != nil {
		logging.AgentWarn("thinking_state publish failed: %v", err)
	}
	defer func() {
		if err := w.Publish(types.KindThinkingState, types.ThinkingState{Active: false}); err != nil {
			logging.AgentWarn("thinking_state publish failed: %v", err)
		}
	}()

	if w.cfg.Agent.Filler && len(w.cfg.Agent.FillerPhrases) > 0 {
		phrase := w.cfg.Agent.FillerPhrases[w.fillerIdx%len(w.cfg.Agent.FillerPhrases)]
		w.fillerIdx++
		if err := w.PublishCorrelated(types.KindSpeechRequested, types.SpeechRequest{Text: phrase, IsFiller: true}, correlationID); err != nil {
			logging.AgentWarn("filler publish failed: %v", err)
		}
	}

	reply, err := w.llm.CompleteWithSystem(ctx, agentSystemPrompt, w.buildPrompt(text, speaker))
	if err != nil {
		return agentDecision{speak: "Sorry, my brain is offline right now."}, err
	}

	return w.parseReply(reply), nil
}

// buildPrompt assembles the rolling conversation window plus the new line.
func (w *AgentWorker) buildPrompt(text string, speaker types.IdentitySighting) string {
	var b strings.Builder
	if len(w.history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, x := range w.history {
			fmt.Fprintf(&b, "User: %s\nBot: %s\n", x.user, x.bot)
		}
		b.WriteString("\n")
	}
	who := "an unrecognized person"
	if speaker.DisplayName != "" {
		who = fmt.Sprintf("%s (trust %s)", speaker.DisplayName, speaker.Trust)
	}
	fmt.Fprintf(&b, "The camera currently sees %s.\nUser: %s\nAnswer with the JSON decision only.", who, text)
	return b.String()
}

// parseReply turns the model output into a decision. The first balanced JSON
// object is extracted with a brace scanner so fenced or chatty replies still
// parse; anything unusable becomes plain chat.
func (w *AgentWorker) parseReply(reply string) agentDecision {
	raw, ok := extractJSON(reply)
	if !ok {
		logging.AgentDebug("Reply carried no JSON, speaking it verbatim")
		return agentDecision{speak: strings.TrimSpace(stripFences(reply))}
	}

	var dec llmDecision
	if err := json.Unmarshal([]byte(raw), &dec); err != nil {
		logging.AgentWarn("Malformed decision JSON (%v), degrading to chat", err)
		return agentDecision{speak: strings.TrimSpace(stripFences(reply))}
	}

	if dec.Type != "command" {
		return agentDecision{speak: dec.Speak}
	}

	cmd, ok := commandFromLLM(dec.Command)
	if !ok {
		logging.AgentWarn("Model proposed unknown command %q, degrading to chat", dec.Command)
		speak := dec.Speak
		if speak == "" {
			speak = "I don't know how to do that one."
		}
		return agentDecision{speak: speak}
	}

	logging.AgentDebug("Model decision: %s (claims trust %s)", dec.Command, dec.RequiresTrust)
	speak := dec.Speak
	if speak == "" {
		speak = "Okay."
	}
	return agentDecision{speak: speak, cmd: &cmd}
}

// commandFromLLM maps a model verb to a concrete command. The risk class
// comes from this table, never from the model.
func commandFromLLM(verb string) (types.Command, bool) {
	switch strings.ToLower(strings.TrimSpace(verb)) {
	case "forward":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbForward}, true
	case "backward", "back":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbBackward}, true
	case "left":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbLeft}, true
	case "right":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbRight}, true
	case "stop":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbStop}, true
	case "follow":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbFollow}, true
	case "pan_left":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbPan, Target: "left"}, true
	case "pan_right":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbPan, Target: "right"}, true
	case "pan_center":
		return types.Command{Risk: types.RiskMotion, Verb: types.VerbPan, Target: "center"}, true
	case "beep":
		return types.Command{Risk: types.RiskLowOutput, Verb: types.VerbBeep}, true
	}
	return types.Command{}, false
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return s
}

// =============================================================================
// EXECUTION
// =============================================================================

// execute speaks the decision and routes any command through the gate.
func (w *AgentWorker) execute(dec agentDecision, userText string, speaker types.IdentitySighting, correlationID string) {
	if dec.cmd == nil {
		if dec.speak != "" {
			w.say(dec.speak, correlationID)
			w.remember(userText, dec.speak)
		}
		return
	}

	cmd := *dec.cmd
	cmd.RequestedBy = speaker.IdentityID
	verdict, err := w.gate.Authorize(cmd, correlationID)
	if err != nil {
		logging.AgentWarn("Gate publish failed: %v", err)
	}

	if verdict.Allow {
		w.say(dec.speak, correlationID)
		w.remember(userText, dec.speak)
		return
	}

	denial := "Sorry, you're not allowed to do that."
	if verdict.Vetoed {
		denial = "I can't move right now, something is too close in front of me."
	}
	w.say(denial, correlationID)
	w.remember(userText, denial)
}

// say publishes one speech request carrying the exchange's correlation id.
func (w *AgentWorker) say(text, correlationID string) {
	if text == "" {
		return
	}
	if err := w.PublishCorrelated(types.KindSpeechRequested, types.SpeechRequest{Text: text}, correlationID); err != nil {
		logging.AgentWarn("speech_requested publish failed: %v", err)
	}
}

// remember appends one exchange, keeping the window at history_turns.
func (w *AgentWorker) remember(user, bot string) {
	w.history = append(w.history, exchange{user: user, bot: bot})
	if max := w.cfg.Agent.HistoryTurns; max > 0 && len(w.history) > max {
		w.history = w.history[len(w.history)-max:]
	}
}

// =============================================================================
// ADMIN INTENTS
// =============================================================================

// adminIntent is a parsed registration or promotion request.
type adminIntent struct {
	verb  string
	name  string
	level types.TrustLevel
}

// parseAdminIntent recognizes the spoken admin phrases. Promotion carries an
// explicit level; registration resolves its level at execution time.
func parseAdminIntent(norm string) (adminIntent, bool) {
	if rest, ok := strings.CutPrefix(norm, "register me as "); ok && rest != "" {
		return adminIntent{verb: types.VerbRegister, name: titleCase(rest)}, true
	}
	if rest, ok := strings.CutPrefix(norm, "my name is "); ok && rest != "" {
		return adminIntent{verb: types.VerbRegister, name: titleCase(rest)}, true
	}

	words := strings.Fields(norm)
	if len(words) >= 4 && (words[0] == "promote" || words[0] == "demote") {
		toIdx := -1
		for i := len(words) - 2; i > 0; i-- {
			if words[i] == "to" {
				toIdx = i
				break
			}
		}
		if toIdx > 1 {
			level, err := types.ParseTrustLevel(strings.Join(words[toIdx+1:], " "))
			if err != nil {
				return adminIntent{}, false
			}
			name := titleCase(strings.Join(words[1:toIdx], " "))
			return adminIntent{verb: types.VerbPromote, name: name, level: level}, true
		}
	}

	return adminIntent{}, false
}

// handleAdmin routes a parsed admin intent through the gate and, when
// admitted, performs it. Registration kicks off the chime countdown; the
// trust record is only written once enrollment succeeds.
func (w *AgentWorker) handleAdmin(intent adminIntent, speaker types.IdentitySighting, correlationID string) {
	level := intent.level
	if intent.verb == types.VerbRegister {
		level = types.TrustGuest
		if rec, ok := w.trust.Get(types.IdentityID(intent.name)); ok {
			level = rec.Level
		}
	}

	cmd := types.Command{
		Risk:        types.RiskAdmin,
		Verb:        intent.verb,
		Name:        intent.name,
		Level:       level,
		RequestedBy: speaker.IdentityID,
	}
	verdict, err := w.gate.Authorize(cmd, correlationID)
	if err != nil {
		logging.AgentWarn("Gate publish failed: %v", err)
	}
	if !verdict.Allow {
		w.say("Sorry, only the owner can change who I trust.", correlationID)
		return
	}

	if intent.verb == types.VerbPromote {
		if err := w.registrar.Register(types.IdentityID(intent.name), intent.name, level, speaker.IdentityID); err != nil {
			var authErr *types.AuthorizationError
			if errors.As(err, &authErr) {
				w.say("Sorry, only the owner can change who I trust.", correlationID)
			} else {
				logging.AgentError("Promotion of %q failed: %v", intent.name, err)
				w.say("I couldn't save that change.", correlationID)
			}
			return
		}
		w.say(fmt.Sprintf("Done. %s is now %s.", intent.name, level), correlationID)
		return
	}

	if w.reg != nil {
		w.say("One registration at a time, please.", correlationID)
		return
	}

	steps := w.cfg.Agent.RegisterCountdown
	if steps < 1 {
		steps = 3
	}
	now := time.Now()
	w.reg = &registration{
		name:          intent.name,
		level:         level,
		requestedBy:   speaker.IdentityID,
		correlationID: correlationID,
		stage:         regCountdown,
		captureStart:  now.Add(time.Duration(steps)*time.Second + 500*time.Millisecond),
		deadline:      now.Add(w.cfg.GetRegisterTimeout()),
	}
	logging.Agent("Starting registration of %q at %s (by %s)", intent.name, level, speaker.IdentityID)
	w.say(fmt.Sprintf("Okay %s, look at the camera.", intent.name), correlationID)
	if err := w.PublishCorrelated(types.KindChimeRequested, types.ChimeRequest{Steps: steps, Interval: time.Second}, correlationID); err != nil {
		logging.AgentWarn("chime_requested publish failed: %v", err)
	}
}

// beginCapture moves the registration flow from countdown to enrollment.
func (w *AgentWorker) beginCapture() {
	if w.reg == nil || w.reg.stage != regCountdown {
		return
	}
	w.reg.stage = regCapturing
	req := types.RegisterRequest{Name: w.reg.name, Level: w.reg.level}
	if err := w.PublishCorrelated(types.KindRegisterRequested, req, w.reg.correlationID); err != nil {
		logging.AgentWarn("register_requested publish failed: %v", err)
	}
}

// finishRegistration completes the flow once enrollment reports back. The
// trust record is written here because the agent knows who authorized it.
func (w *AgentWorker) finishRegistration(result types.RegisterResult) {
	if w.reg == nil {
		// Enrollment the agent didn't start (CLI driven); nothing to do.
		return
	}
	reg := w.reg
	w.reg = nil

	if !result.OK {
		logging.AgentWarn("Enrollment of %q failed: %s", reg.name, result.Err)
		w.say("Sorry, I couldn't get a good look at you. Let's try again.", reg.correlationID)
		return
	}

	if err := w.registrar.Register(types.IdentityID(reg.name), reg.name, reg.level, reg.requestedBy); err != nil {
		logging.AgentError("Trust record for %q failed: %v", reg.name, err)
		w.say("I saw you, but couldn't save the registration.", reg.correlationID)
		return
	}

	logging.Agent("Registered %q as %s", reg.name, reg.level)
	w.say(fmt.Sprintf("Nice to meet you, %s! I'll remember your face.", reg.name), reg.correlationID)
}

// titleCase capitalizes the first letter of each word of a spoken name.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		r := []rune(word)
		if len(r) > 0 && r[0] >= 'a' && r[0] <= 'z' {
			r[0] = r[0] - 'a' + 'A'
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
