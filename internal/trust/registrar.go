package trust

import (
	"fmt"

	"botnerd/internal/logging"
	"botnerd/internal/store"
	"botnerd/internal/types"
)

// Registrar is the only write path into the trust store. Every change is an
// explicit registration authorized by an owner; there is no promotion from
// being seen often.
type Registrar struct {
	trust *store.TrustStore
}

// NewRegistrar wires the registrar to the trust store.
func NewRegistrar(trust *store.TrustStore) *Registrar {
	return &Registrar{trust: trust}
}

// Register sets identity's trust level, authorized by `by`. Returns
// AuthorizationError unless `by` currently holds owner trust. Promotion and
// demotion are the same operation; re-registering updates in place.
func (r *Registrar) Register(identityID, displayName string, level types.TrustLevel, by string) error {
	if identityID == "" {
		return fmt.Errorf("registration requires an identity id")
	}
	if !level.Valid() {
		return fmt.Errorf("registration for %s has invalid level %d", identityID, int(level))
	}

	byLevel := r.trust.Lookup(by)
	if byLevel != types.TrustOwner {
		reason := fmt.Sprintf("registrations require owner trust, %q holds %s", by, byLevel)
		logging.TrustWarn("Denied registration of %s as %s: %s", identityID, level, reason)
		logging.Audit().TrustChange(identityID, level.String(), by, false)
		return &types.AuthorizationError{Identity: by, Risk: types.RiskAdmin, Reason: reason}
	}

	if err := r.trust.Upsert(types.TrustRecord{
		IdentityID:   identityID,
		DisplayName:  displayName,
		Level:        level,
		RegisteredBy: by,
	}); err != nil {
		return fmt.Errorf("failed to register %s: %w", identityID, err)
	}

	logging.Trust("Registered %s as %s (by %s)", identityID, level, by)
	logging.Audit().TrustChange(identityID, level.String(), by, true)
	return nil
}

// Bootstrap seeds the configured owner identity when the store has no owner
// yet. First run only; once any owner exists this is a no-op, so a lost
// database cannot be re-seeded by accident while owners remain.
func (r *Registrar) Bootstrap(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("bootstrap requires an owner identity")
	}

	hasOwner, err := r.trust.HasOwner()
	if err != nil {
		return fmt.Errorf("failed to check for existing owner: %w", err)
	}
	if hasOwner {
		return nil
	}

	if err := r.trust.Upsert(types.TrustRecord{
		IdentityID:   ownerID,
		Level:        types.TrustOwner,
		RegisteredBy: ownerID,
	}); err != nil {
		return fmt.Errorf("failed to bootstrap owner %s: %w", ownerID, err)
	}

	logging.Trust("Bootstrapped owner identity: %s", ownerID)
	logging.Audit().TrustChange(ownerID, types.TrustOwner.String(), ownerID, true)
	return nil
}
