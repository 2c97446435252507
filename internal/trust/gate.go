package trust

import (
	"fmt"
	"sync"

	"botnerd/internal/config"
	"botnerd/internal/logging"
	"botnerd/internal/store"
	"botnerd/internal/types"
)

// reqToken is the name constant identifying the single request under
// evaluation. The kernel is rebuilt per decision, so one token suffices.
const reqToken = "/cmd"

// Gate decides whether a command may proceed. Decisions are deterministic in
// (requester trust, risk class, ranging state) and fail closed: any policy
// evaluation problem reads as a denial, never an allow.
type Gate struct {
	kernel *PolicyKernel
	trust  *store.TrustStore
	pub    types.Publisher

	required       map[types.RiskClass]types.TrustLevel
	minClearanceMm int64

	mu          sync.RWMutex
	clearanceMm int64 // -1 until the first ranging sample arrives
	tripped     bool
}

// NewGate wires the gate to its policy kernel and trust store. pub may be
// nil for surfaces that only need Evaluate (the gate CLI, the self test).
func NewGate(kernel *PolicyKernel, trust *store.TrustStore, cfg *config.Config, pub types.Publisher) *Gate {
	return &Gate{
		kernel:         kernel,
		trust:          trust,
		pub:            pub,
		required:       cfg.RequiredTrust(),
		minClearanceMm: int64(cfg.Safety.MinClearanceM * 1000),
		clearanceMm:    -1,
	}
}

// UpdateClearance records the latest ranging sample. Called by the ranging
// worker on every distance_reading it publishes.
func (g *Gate) UpdateClearance(meters float64) {
	mm := int64(meters * 1000)

	g.mu.Lock()
	g.clearanceMm = mm
	wasTripped := g.tripped
	g.tripped = mm < g.minClearanceMm
	nowTripped := g.tripped
	g.mu.Unlock()

	if nowTripped != wasTripped {
		logging.Audit().Interlock(nowTripped, meters)
		if nowTripped {
			logging.Gate("Ranging interlock tripped: clearance %.2fm below %.2fm", meters, float64(g.minClearanceMm)/1000)
		} else {
			logging.Gate("Ranging interlock cleared: clearance %.2fm", meters)
		}
	}
}

// InterlockActive reports whether the latest ranging sample is below the
// minimum clearance. No sample yet means no interlock.
func (g *Gate) InterlockActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clearanceMm >= 0 && g.clearanceMm < g.minClearanceMm
}

// Evaluate runs one command through the policy and returns the verdict.
// It never publishes; Authorize is the publishing wrapper.
func (g *Gate) Evaluate(cmd types.Command) types.GateDecision {
	identity := cmd.RequestedBy
	level := g.trust.Lookup(identity)

	if !cmd.Risk.Valid() {
		return g.deny(cmd, level, false, fmt.Sprintf("unknown risk class %q", string(cmd.Risk)))
	}

	facts := g.decisionFacts(identity, level, cmd.Risk)
	out, err := g.kernel.Eval(facts, "permit", "veto")
	if err != nil {
		logging.GateError("Policy evaluation failed, denying: %v", err)
		return g.deny(cmd, level, false, "policy evaluation failed")
	}

	vetoed := len(out["veto"]) > 0
	permitted := len(out["permit"]) > 0

	if permitted {
		reason := fmt.Sprintf("trust %s meets required %s", level, g.requiredFor(cmd.Risk))
		logging.Gate("Allow %s/%s for %q: %s", cmd.Risk, cmd.Verb, identity, reason)
		logging.Audit().GateDecision(identity, string(cmd.Risk), cmd.Verb, true, false, reason)
		return types.GateDecision{Allow: true, Reason: reason}
	}

	if vetoed {
		g.mu.RLock()
		clearance := float64(g.clearanceMm) / 1000
		minClearance := float64(g.minClearanceMm) / 1000
		g.mu.RUnlock()
		reason := fmt.Sprintf("ranging interlock: clearance %.2fm below %.2fm", clearance, minClearance)
		return g.deny(cmd, level, true, reason)
	}

	reason := fmt.Sprintf("trust %s below required %s", level, g.requiredFor(cmd.Risk))
	return g.deny(cmd, level, false, reason)
}

// Authorize evaluates cmd and publishes the outcome: command_requested with
// the Approved stamp on allow, command_denied on deny. Denial is never
// silent. The returned error reports publish failures only; the decision
// stands either way.
func (g *Gate) Authorize(cmd types.Command, correlationID string) (types.GateDecision, error) {
	decision := g.Evaluate(cmd)
	if g.pub == nil {
		return decision, nil
	}

	if decision.Allow {
		cmd.Approved = true
		msg := types.NewCorrelated(types.KindCommandRequested, "gate", cmd, correlationID)
		if err := g.pub.Publish(msg); err != nil {
			return decision, fmt.Errorf("failed to publish approved command: %w", err)
		}
		return decision, nil
	}

	denied := types.CommandDenied{
		IdentityID: cmd.RequestedBy,
		Risk:       cmd.Risk,
		Verb:       cmd.Verb,
		Reason:     decision.Reason,
	}
	msg := types.NewCorrelated(types.KindCommandDenied, "gate", denied, correlationID)
	if err := g.pub.Publish(msg); err != nil {
		return decision, fmt.Errorf("failed to publish denial: %w", err)
	}
	return decision, nil
}

// decisionFacts assembles the fact set for one evaluation.
func (g *Gate) decisionFacts(identity string, level types.TrustLevel, risk types.RiskClass) []Fact {
	facts := []Fact{
		{Predicate: "request", Args: []interface{}{reqToken, identity, "/" + string(risk)}},
		{Predicate: "trust_rank", Args: []interface{}{identity, int64(level)}},
		{Predicate: "min_clearance_mm", Args: []interface{}{g.minClearanceMm}},
	}
	for r, min := range g.required {
		facts = append(facts, Fact{Predicate: "required_rank", Args: []interface{}{"/" + string(r), int64(min)}})
	}

	g.mu.RLock()
	clearance := g.clearanceMm
	g.mu.RUnlock()
	if clearance >= 0 {
		facts = append(facts, Fact{Predicate: "clearance_mm", Args: []interface{}{clearance}})
	}
	return facts
}

func (g *Gate) deny(cmd types.Command, level types.TrustLevel, vetoed bool, reason string) types.GateDecision {
	logging.Gate("Deny %s/%s for %q (trust %s, vetoed=%v): %s", cmd.Risk, cmd.Verb, cmd.RequestedBy, level, vetoed, reason)
	logging.Audit().GateDecision(cmd.RequestedBy, string(cmd.Risk), cmd.Verb, false, vetoed, reason)
	return types.GateDecision{Allow: false, Reason: reason, Vetoed: vetoed}
}

func (g *Gate) requiredFor(risk types.RiskClass) types.TrustLevel {
	if min, ok := g.required[risk]; ok {
		return min
	}
	// Unlisted risks require owner, keeping the failure mode closed.
	return types.TrustOwner
}
