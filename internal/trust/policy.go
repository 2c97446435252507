// Package trust holds the action gate: a Datalog policy kernel, the gate
// that consults it, and the owner-gated registrar that changes trust levels.
package trust

import (
	"fmt"
	"strings"
	"sync"

	"botnerd/internal/logging"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// DefaultRules is the embedded gate policy. A file at trust.rules_path
// replaces this text wholesale; the predicates the gate asserts stay fixed.
//
// The gate asserts, per decision:
//
//	request(/cmd, "<identity>", /<risk>).
//	trust_rank("<identity>", N).
//	required_rank(/<risk>, N).        one per risk class
//	min_clearance_mm(N).
//	clearance_mm(N).                  only when a ranging reading exists
//
// and reads back permit(/cmd) and veto(/cmd).
const DefaultRules = `
# Gate policy: a request passes when the requester's trust rank meets the
# minimum rank for its risk class, unless the ranging interlock vetoes it.

Decl request(Req, Identity, Risk).
Decl trust_rank(Identity, Rank).
Decl required_rank(Risk, Rank).
Decl clearance_mm(Mm).
Decl min_clearance_mm(Mm).
Decl motion_risk(Risk).
Decl rank_ok(Req).
Decl veto(Req).
Decl permit(Req).

motion_risk(/physical_motion).

rank_ok(Req) :-
    request(Req, Identity, Risk),
    trust_rank(Identity, Rank),
    required_rank(Risk, Min),
    Rank >= Min.

# The interlock only constrains motion. Other risk classes pass on rank
# alone even while the robot is boxed in.
veto(Req) :-
    request(Req, _, Risk),
    motion_risk(Risk),
    clearance_mm(Mm),
    min_clearance_mm(Min),
    Mm < Min.

permit(Req) :- rank_ok(Req), !veto(Req).
`

// Fact is a single logical fact asserted into the policy program.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String returns the Datalog source line for the fact.
func (f Fact) String() string {
	var args []string
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			// Name constants start with /
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%f", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// PolicyKernel evaluates gate decisions with the google/mangle engine. Every
// evaluation builds the program from scratch (rules + asserted facts) and
// runs to fixpoint in a fresh fact store, so the same inputs always derive
// the same verdict and nothing leaks between decisions.
type PolicyKernel struct {
	mu    sync.RWMutex
	rules string
}

// NewPolicyKernel returns a kernel running the embedded default rules.
func NewPolicyKernel() *PolicyKernel {
	return &PolicyKernel{rules: DefaultRules}
}

// Rules returns the currently active rule text.
func (k *PolicyKernel) Rules() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rules
}

// SetRules replaces the active rules after validating that they parse and
// analyze. Invalid rules are rejected and the previous rules stay active, so
// a broken override file can never leave the gate without a policy.
func (k *PolicyKernel) SetRules(rules string) error {
	if err := validateRules(rules); err != nil {
		return err
	}

	k.mu.Lock()
	k.rules = rules
	k.mu.Unlock()

	logging.Gate("Policy rules replaced (%d bytes)", len(rules))
	return nil
}

// ResetRules restores the embedded default rules.
func (k *PolicyKernel) ResetRules() {
	k.mu.Lock()
	k.rules = DefaultRules
	k.mu.Unlock()
	logging.Gate("Policy rules reset to embedded defaults")
}

// validateRules parses and analyzes the rule text without evaluating it.
func validateRules(rules string) error {
	parsed, err := parse.Unit(strings.NewReader(rules))
	if err != nil {
		return fmt.Errorf("failed to parse rules: %w", err)
	}
	if _, err := analysis.AnalyzeOneUnit(parsed, nil); err != nil {
		return fmt.Errorf("failed to analyze rules: %w", err)
	}
	return nil
}

// Eval asserts the facts, evaluates the program to fixpoint, and returns the
// derived facts for each queried predicate.
func (k *PolicyKernel) Eval(facts []Fact, queries ...string) (map[string][]Fact, error) {
	k.mu.RLock()
	rules := k.rules
	k.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(rules)
	sb.WriteString("\n")
	for _, f := range facts {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("failed to evaluate program: %w", err)
	}

	results := make(map[string][]Fact, len(queries))
	for _, query := range queries {
		results[query] = nil
		for pred := range programInfo.Decls {
			if pred.Symbol != query {
				continue
			}
			store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
				results[query] = append(results[query], atomToFact(a))
				return nil
			})
			break
		}
	}
	return results, nil
}

// atomToFact converts a Mangle atom back to a Fact.
func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, term := range a.Args {
		args[i] = baseTermToValue(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

// baseTermToValue extracts the Go value from a Mangle term.
func baseTermToValue(term ast.BaseTerm) interface{} {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType:
			return t.Symbol
		case ast.StringType:
			return t.Symbol
		case ast.NumberType:
			return t.NumValue
		case ast.Float64Type:
			return t.Float64Value
		default:
			return t.Symbol
		}
	case ast.Variable:
		return fmt.Sprintf("?%s", t.Symbol)
	default:
		return fmt.Sprintf("%v", term)
	}
}
