package trust

import (
	"strings"
	"testing"
)

func motionFacts(rank, required, clearanceMm int64) []Fact {
	facts := []Fact{
		{Predicate: "request", Args: []interface{}{reqToken, "visitor", "/physical_motion"}},
		{Predicate: "trust_rank", Args: []interface{}{"visitor", rank}},
		{Predicate: "required_rank", Args: []interface{}{"/physical_motion", required}},
		{Predicate: "min_clearance_mm", Args: []interface{}{int64(250)}},
	}
	if clearanceMm >= 0 {
		facts = append(facts, Fact{Predicate: "clearance_mm", Args: []interface{}{clearanceMm}})
	}
	return facts
}

func TestKernelPermitsSufficientRank(t *testing.T) {
	k := NewPolicyKernel()

	out, err := k.Eval(motionFacts(2, 2, -1), "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["permit"]) != 1 {
		t.Errorf("Rank 2 vs required 2 should permit, got %d permit facts", len(out["permit"]))
	}
	if len(out["veto"]) != 0 {
		t.Errorf("No clearance fact should mean no veto, got %d", len(out["veto"]))
	}
}

func TestKernelDeniesInsufficientRank(t *testing.T) {
	k := NewPolicyKernel()

	out, err := k.Eval(motionFacts(1, 2, -1), "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["permit"]) != 0 {
		t.Errorf("Rank 1 vs required 2 should not permit, got %d permit facts", len(out["permit"]))
	}
}

func TestKernelVetoOverridesRank(t *testing.T) {
	k := NewPolicyKernel()

	// Owner rank, but clearance 50mm under a 250mm minimum.
	out, err := k.Eval(motionFacts(3, 2, 50), "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["veto"]) != 1 {
		t.Errorf("Clearance below minimum should veto, got %d veto facts", len(out["veto"]))
	}
	if len(out["permit"]) != 0 {
		t.Errorf("Veto should suppress permit, got %d permit facts", len(out["permit"]))
	}
}

func TestKernelVetoOnlyAppliesToMotion(t *testing.T) {
	k := NewPolicyKernel()

	facts := []Fact{
		{Predicate: "request", Args: []interface{}{reqToken, "visitor", "/read_only"}},
		{Predicate: "trust_rank", Args: []interface{}{"visitor", int64(0)}},
		{Predicate: "required_rank", Args: []interface{}{"/read_only", int64(0)}},
		{Predicate: "min_clearance_mm", Args: []interface{}{int64(250)}},
		{Predicate: "clearance_mm", Args: []interface{}{int64(50)}},
	}
	out, err := k.Eval(facts, "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["veto"]) != 0 {
		t.Errorf("Interlock must not veto read_only requests, got %d veto facts", len(out["veto"]))
	}
	if len(out["permit"]) != 1 {
		t.Errorf("read_only at rank 0 should permit, got %d", len(out["permit"]))
	}
}

func TestKernelClearanceAtMinimumDoesNotVeto(t *testing.T) {
	k := NewPolicyKernel()

	out, err := k.Eval(motionFacts(2, 2, 250), "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["veto"]) != 0 {
		t.Errorf("Clearance equal to the minimum should not veto, got %d", len(out["veto"]))
	}
	if len(out["permit"]) != 1 {
		t.Errorf("Expected permit at the boundary, got %d", len(out["permit"]))
	}
}

func TestKernelDeterministic(t *testing.T) {
	k := NewPolicyKernel()

	facts := motionFacts(2, 2, 300)
	for i := 0; i < 5; i++ {
		out, err := k.Eval(facts, "permit", "veto")
		if err != nil {
			t.Fatalf("Eval %d failed: %v", i, err)
		}
		if len(out["permit"]) != 1 || len(out["veto"]) != 0 {
			t.Fatalf("Eval %d diverged: permit=%d veto=%d", i, len(out["permit"]), len(out["veto"]))
		}
	}
}

// Guards the engine entry point: evaluation must actually run the rules to
// fixpoint, not just load the asserted facts. A plain join derives here even
// without comparisons or negation.
func TestKernelEvaluatesRulesToFixpoint(t *testing.T) {
	k := NewPolicyKernel()
	rules := `
Decl score(Id, V).
Decl seen(Id).

seen(Id) :- score(Id, _).
`
	if err := k.SetRules(rules); err != nil {
		t.Fatalf("SetRules failed: %v", err)
	}

	facts := []Fact{
		{Predicate: "score", Args: []interface{}{"alpha", int64(1)}},
		{Predicate: "score", Args: []interface{}{"beta", int64(2)}},
	}
	out, err := k.Eval(facts, "seen")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["seen"]) != 2 {
		t.Fatalf("Join rule derived %d seen facts, want 2", len(out["seen"]))
	}
}

func TestSetRulesRejectsInvalid(t *testing.T) {
	k := NewPolicyKernel()
	before := k.Rules()

	if err := k.SetRules("this is not datalog ::-"); err == nil {
		t.Fatal("Garbage rules should be rejected")
	}
	if k.Rules() != before {
		t.Error("Rejected rules must not replace the active rules")
	}

	// The kernel must still decide correctly after a rejected load.
	out, err := k.Eval(motionFacts(2, 2, -1), "permit")
	if err != nil {
		t.Fatalf("Eval after rejected SetRules failed: %v", err)
	}
	if len(out["permit"]) != 1 {
		t.Error("Kernel should still permit with the prior rules")
	}
}

func TestSetRulesAcceptsOverride(t *testing.T) {
	k := NewPolicyKernel()

	// A stricter house policy: nothing passes, ever.
	override := `
Decl request(Req, Identity, Risk).
Decl trust_rank(Identity, Rank).
Decl required_rank(Risk, Rank).
Decl clearance_mm(Mm).
Decl min_clearance_mm(Mm).
Decl permit(Req).
Decl veto(Req).
veto(Req) :- request(Req, _, _).
`
	if err := k.SetRules(override); err != nil {
		t.Fatalf("Valid override should load: %v", err)
	}

	out, err := k.Eval(motionFacts(3, 2, -1), "permit", "veto")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if len(out["permit"]) != 0 || len(out["veto"]) != 1 {
		t.Errorf("Override policy should veto everything: permit=%d veto=%d", len(out["permit"]), len(out["veto"]))
	}

	k.ResetRules()
	if !strings.Contains(k.Rules(), "motion_risk(/physical_motion)") {
		t.Error("ResetRules should restore the embedded defaults")
	}
}

func TestFactString(t *testing.T) {
	f := Fact{Predicate: "request", Args: []interface{}{"/cmd", "guest-42", "/admin"}}
	if got := f.String(); got != `request(/cmd, "guest-42", /admin).` {
		t.Errorf("Unexpected fact rendering: %s", got)
	}

	f = Fact{Predicate: "trust_rank", Args: []interface{}{"alice", int64(2)}}
	if got := f.String(); got != `trust_rank("alice", 2).` {
		t.Errorf("Unexpected fact rendering: %s", got)
	}
}
