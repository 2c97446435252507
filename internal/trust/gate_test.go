package trust

import (
	"strings"
	"testing"

	"botnerd/internal/config"
	"botnerd/internal/store"
	"botnerd/internal/types"
)

type capturePublisher struct {
	msgs []types.Message
}

func (p *capturePublisher) Publish(msg types.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func newGateFixture(t *testing.T) (*Gate, *store.Store, *capturePublisher) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	seed := []types.TrustRecord{
		{IdentityID: "owner-cli", Level: types.TrustOwner, RegisteredBy: "owner-cli"},
		{IdentityID: "alice", Level: types.TrustKnown, RegisteredBy: "owner-cli"},
		{IdentityID: "guest-42", Level: types.TrustGuest, RegisteredBy: "owner-cli"},
	}
	for _, rec := range seed {
		if err := st.Trust().Upsert(rec); err != nil {
			t.Fatalf("Failed to seed %s: %v", rec.IdentityID, err)
		}
	}

	pub := &capturePublisher{}
	gate := NewGate(NewPolicyKernel(), st.Trust(), config.DefaultConfig(), pub)
	return gate, st, pub
}

func TestGateDecisionTable(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	cases := []struct {
		name     string
		identity string
		risk     types.RiskClass
		allow    bool
	}{
		{"unknown read_only", "stranger", types.RiskReadOnly, true},
		{"unknown low_risk_output", "stranger", types.RiskLowOutput, true},
		{"unknown motion", "stranger", types.RiskMotion, false},
		{"guest motion", "guest-42", types.RiskMotion, false},
		{"known motion", "alice", types.RiskMotion, true},
		{"known admin", "alice", types.RiskAdmin, false},
		{"owner motion", "owner-cli", types.RiskMotion, true},
		{"owner admin", "owner-cli", types.RiskAdmin, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := gate.Evaluate(types.Command{Risk: tc.risk, Verb: "forward", RequestedBy: tc.identity})
			if d.Allow != tc.allow {
				t.Errorf("Expected allow=%v, got %v (reason: %s)", tc.allow, d.Allow, d.Reason)
			}
			if !tc.allow && d.Vetoed {
				t.Errorf("Trust denial must not be marked vetoed: %s", d.Reason)
			}
		})
	}
}

func TestGateInterlockVetoesOwnerMotion(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	// 5cm clearance against a 25cm minimum.
	gate.UpdateClearance(0.05)
	if !gate.InterlockActive() {
		t.Fatal("Interlock should be active at 0.05m")
	}

	d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "owner-cli"})
	if d.Allow {
		t.Fatal("Interlock must veto motion regardless of trust")
	}
	if !d.Vetoed {
		t.Error("Interlock denial must be marked vetoed")
	}
	if !strings.Contains(d.Reason, "interlock") {
		t.Errorf("Reason should name the interlock, got: %s", d.Reason)
	}

	// Non-motion commands pass on rank alone while boxed in.
	d = gate.Evaluate(types.Command{Risk: types.RiskReadOnly, Verb: "say", RequestedBy: "owner-cli"})
	if !d.Allow {
		t.Errorf("Interlock must not affect read_only: %s", d.Reason)
	}

	// Backing away clears the interlock and motion flows again.
	gate.UpdateClearance(0.80)
	if gate.InterlockActive() {
		t.Fatal("Interlock should clear at 0.80m")
	}
	d = gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "owner-cli"})
	if !d.Allow {
		t.Errorf("Motion should be allowed after the interlock clears: %s", d.Reason)
	}
}

func TestGateNoReadingMeansNoInterlock(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	if gate.InterlockActive() {
		t.Error("No ranging sample should mean no interlock")
	}
	d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "alice"})
	if !d.Allow {
		t.Errorf("Motion should pass without ranging data: %s", d.Reason)
	}
}

func TestGateRejectsUnknownRisk(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	d := gate.Evaluate(types.Command{Risk: types.RiskClass("warp_drive"), Verb: "engage", RequestedBy: "owner-cli"})
	if d.Allow {
		t.Fatal("Unknown risk class must be denied")
	}
	if !strings.Contains(d.Reason, "warp_drive") {
		t.Errorf("Reason should name the bad class, got: %s", d.Reason)
	}
}

func TestAuthorizePublishesApprovedCommand(t *testing.T) {
	gate, _, pub := newGateFixture(t)

	cmd := types.Command{Risk: types.RiskMotion, Verb: "forward", Seconds: 1.5, RequestedBy: "alice"}
	d, err := gate.Authorize(cmd, "corr-1")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if !d.Allow {
		t.Fatalf("Expected allow, got: %s", d.Reason)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Kind != types.KindCommandRequested {
		t.Errorf("Expected command_requested, got %s", msg.Kind)
	}
	if msg.CorrelationID != "corr-1" {
		t.Errorf("Correlation id should flow through, got %q", msg.CorrelationID)
	}
	out, ok := msg.Payload.(types.Command)
	if !ok {
		t.Fatalf("Payload should be a Command, got %T", msg.Payload)
	}
	if !out.Approved {
		t.Error("Published command must carry the Approved stamp")
	}
	if out.Seconds != 1.5 {
		t.Errorf("Command fields should pass through, got %+v", out)
	}
}

func TestAuthorizeDenialIsNeverSilent(t *testing.T) {
	gate, _, pub := newGateFixture(t)

	cmd := types.Command{Risk: types.RiskAdmin, Verb: "promote", RequestedBy: "guest-42"}
	d, err := gate.Authorize(cmd, "corr-2")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if d.Allow {
		t.Fatal("Guest admin command must be denied")
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("Denial must publish command_denied, got %d messages", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Kind != types.KindCommandDenied {
		t.Errorf("Expected command_denied, got %s", msg.Kind)
	}
	denied, ok := msg.Payload.(types.CommandDenied)
	if !ok {
		t.Fatalf("Payload should be CommandDenied, got %T", msg.Payload)
	}
	if denied.IdentityID != "guest-42" || denied.Verb != "promote" {
		t.Errorf("Unexpected denial payload: %+v", denied)
	}
	if denied.Reason == "" {
		t.Error("Denial reason must not be empty")
	}
}

func TestAuthorizeWithoutPublisher(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	gate := NewGate(NewPolicyKernel(), st.Trust(), config.DefaultConfig(), nil)
	d, err := gate.Authorize(types.Command{Risk: types.RiskReadOnly, Verb: "say", RequestedBy: "anyone"}, "")
	if err != nil {
		t.Fatalf("Authorize without publisher should not error: %v", err)
	}
	if !d.Allow {
		t.Errorf("read_only should be allowed: %s", d.Reason)
	}
}

func TestGateOverrideRulesChangeDecisions(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	// Lock the house down: only owners act at all.
	override := `
Decl request(Req, Identity, Risk).
Decl trust_rank(Identity, Rank).
Decl required_rank(Risk, Rank).
Decl clearance_mm(Mm).
Decl min_clearance_mm(Mm).
Decl permit(Req).
Decl veto(Req).
permit(Req) :- request(Req, Identity, _), trust_rank(Identity, Rank), Rank >= 3.
`
	if err := gate.kernel.SetRules(override); err != nil {
		t.Fatalf("Override should load: %v", err)
	}

	if d := gate.Evaluate(types.Command{Risk: types.RiskReadOnly, Verb: "say", RequestedBy: "alice"}); d.Allow {
		t.Error("Override should deny known identities")
	}
	if d := gate.Evaluate(types.Command{Risk: types.RiskMotion, Verb: "forward", RequestedBy: "owner-cli"}); !d.Allow {
		t.Errorf("Override should still allow owners: %s", d.Reason)
	}
}
