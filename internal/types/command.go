package types

// Command is the payload of a command_requested message. A Command only
// reaches an actuator worker after the action gate marked it allowed; the
// Approved flag is stamped by the gate and actuators ignore commands
// without it.
type Command struct {
	Risk        RiskClass
	Verb        string
	Target      string
	Seconds     float64
	Meters      float64
	RequestedBy string
	Approved    bool

	// Admin registration fields, set when Verb is "register" or "promote".
	Name  string
	Level TrustLevel
}

// Motion command verbs. Stop verbs are executed immediately even while a
// timed drive is in progress.
const (
	VerbForward  = "forward"
	VerbBackward = "backward"
	VerbLeft     = "left"
	VerbRight    = "right"
	VerbStop     = "stop"
	VerbFollow   = "follow"
	VerbPan      = "pan"
	VerbBeep     = "beep"
	VerbSay      = "say"
	VerbRegister = "register"
	VerbPromote  = "promote"
)

// MotionVerb reports whether the verb drives the wheels or the stepper head.
func MotionVerb(verb string) bool {
	switch verb {
	case VerbForward, VerbBackward, VerbLeft, VerbRight, VerbStop, VerbFollow, VerbPan:
		return true
	}
	return false
}

// GateDecision is the action gate's verdict on one command. Deterministic
// given (risk class, requester trust, ranging state).
type GateDecision struct {
	Allow  bool
	Reason string
	// Vetoed marks a denial caused by a safety interlock rather than
	// insufficient trust.
	Vetoed bool
}
