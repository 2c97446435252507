package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TRUST LEVELS
// =============================================================================

// TrustLevel is the ordered authorization tier associated with an identity.
// Levels only change through an explicit owner-authorized registration,
// never from repeated sightings.
type TrustLevel int

const (
	TrustUnknown TrustLevel = 0
	TrustGuest   TrustLevel = 1
	TrustKnown   TrustLevel = 2
	TrustOwner   TrustLevel = 3
)

// String returns the lowercase name used in config files and Datalog facts.
func (t TrustLevel) String() string {
	switch t {
	case TrustUnknown:
		return "unknown"
	case TrustGuest:
		return "guest"
	case TrustKnown:
		return "known"
	case TrustOwner:
		return "owner"
	default:
		return fmt.Sprintf("trust(%d)", int(t))
	}
}

// Valid reports whether t is one of the four defined tiers.
func (t TrustLevel) Valid() bool {
	return t >= TrustUnknown && t <= TrustOwner
}

// ParseTrustLevel accepts the level names used in config and speech
// ("unknown", "guest", "known", "owner"). "friend" is accepted as a spoken
// alias for known.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown":
		return TrustUnknown, nil
	case "guest":
		return TrustGuest, nil
	case "known", "friend":
		return TrustKnown, nil
	case "owner":
		return TrustOwner, nil
	}
	return TrustUnknown, fmt.Errorf("unknown trust level %q", s)
}

// IdentityID derives the stable identity key for a display name. Spoken
// registration and face enrollment both go through here so the trust record
// and the face embedding land under the same key.
func IdentityID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// TrustRecord is one row of the persisted identity -> trust mapping.
// RegisteredBy is the identity that authorized the most recent level change.
// LastSeenAt is the most recent stable recognition of this identity; zero
// means the face has never been recognized since registration.
type TrustRecord struct {
	IdentityID   string
	DisplayName  string
	Level        TrustLevel
	RegisteredBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeenAt   time.Time
}

// =============================================================================
// RISK CLASSES
// =============================================================================

// RiskClass categorizes a command by the damage it can do; it determines the
// trust level required before the action gate lets the command through.
type RiskClass string

const (
	RiskReadOnly  RiskClass = "read_only"
	RiskLowOutput RiskClass = "low_risk_output"
	RiskMotion    RiskClass = "physical_motion"
	RiskAdmin     RiskClass = "admin"
)

// AllRiskClasses returns every risk class, lowest first.
func AllRiskClasses() []RiskClass {
	return []RiskClass{RiskReadOnly, RiskLowOutput, RiskMotion, RiskAdmin}
}

// Valid reports whether r is one of the defined classes.
func (r RiskClass) Valid() bool {
	switch r {
	case RiskReadOnly, RiskLowOutput, RiskMotion, RiskAdmin:
		return true
	}
	return false
}

// DefaultRequiredTrust is the shipped risk -> minimum trust table. Config can
// raise or lower entries; the gate reads the effective table, not this one.
func DefaultRequiredTrust() map[RiskClass]TrustLevel {
	return map[RiskClass]TrustLevel{
		RiskReadOnly:  TrustUnknown,
		RiskLowOutput: TrustUnknown,
		RiskMotion:    TrustKnown,
		RiskAdmin:     TrustOwner,
	}
}
