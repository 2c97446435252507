package store

import (
	"database/sql"
	"errors"
	"fmt"

	"botnerd/internal/logging"
	"botnerd/internal/types"
)

// TrustStore is the identity -> trust level view of the robot database. It is
// the only shared mutable state outside bus messages, so every write goes
// through the store's write lock and SQLite's single connection. Reads hit
// the database each time; there is no cache to go stale across registrations.
type TrustStore struct {
	store *Store
}

// Lookup returns the trust level for an identity. Absence is not an error:
// an identity the store has never seen is unknown. Query failures also map
// to unknown so a broken database can never grant elevated trust.
func (t *TrustStore) Lookup(identityID string) types.TrustLevel {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var level int
	err := t.store.db.QueryRow(
		"SELECT level FROM trust_records WHERE identity_id = ?",
		identityID,
	).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TrustUnknown
	}
	if err != nil {
		logging.TrustWarn("Lookup failed for %s, treating as unknown: %v", identityID, err)
		return types.TrustUnknown
	}

	lv := types.TrustLevel(level)
	if !lv.Valid() {
		logging.TrustWarn("Stored level %d for %s out of range, treating as unknown", level, identityID)
		return types.TrustUnknown
	}
	return lv
}

// Get returns the full record for an identity and whether it exists.
func (t *TrustStore) Get(identityID string) (types.TrustRecord, bool) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	rec, err := t.scanRecord(t.store.db.QueryRow(
		"SELECT identity_id, display_name, level, registered_by, created_at, updated_at, last_seen_at FROM trust_records WHERE identity_id = ?",
		identityID,
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.TrustWarn("Get failed for %s: %v", identityID, err)
		}
		return types.TrustRecord{}, false
	}
	return rec, true
}

// Upsert inserts or updates a trust record. Re-registering an identity
// updates its level in place; created_at survives, updated_at moves.
func (t *TrustStore) Upsert(rec types.TrustRecord) error {
	if rec.IdentityID == "" {
		return fmt.Errorf("trust record requires an identity id")
	}
	if !rec.Level.Valid() {
		return fmt.Errorf("trust record for %s has invalid level %d", rec.IdentityID, int(rec.Level))
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	_, err := t.store.db.Exec(
		`INSERT INTO trust_records (identity_id, display_name, level, registered_by, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(identity_id) DO UPDATE SET
		 display_name = excluded.display_name,
		 level = excluded.level,
		 registered_by = excluded.registered_by,
		 updated_at = CURRENT_TIMESTAMP`,
		rec.IdentityID, rec.DisplayName, int(rec.Level), rec.RegisteredBy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trust record for %s: %w", rec.IdentityID, err)
	}

	logging.Trust("Trust record stored: %s -> %s (by %s)", rec.IdentityID, rec.Level, rec.RegisteredBy)
	return nil
}

// TouchSeen records a stable recognition of an identity by moving its
// last_seen_at to now. Identities without a trust record are a no-op; a
// sighting alone never creates trust.
func (t *TrustStore) TouchSeen(identityID string) error {
	if identityID == "" {
		return nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	_, err := t.store.db.Exec(
		"UPDATE trust_records SET last_seen_at = CURRENT_TIMESTAMP WHERE identity_id = ?",
		identityID,
	)
	if err != nil {
		return fmt.Errorf("failed to record sighting of %s: %w", identityID, err)
	}
	return nil
}

// List returns every trust record, highest level first.
func (t *TrustStore) List() ([]types.TrustRecord, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	rows, err := t.store.db.Query(
		"SELECT identity_id, display_name, level, registered_by, created_at, updated_at, last_seen_at FROM trust_records ORDER BY level DESC, identity_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trust records: %w", err)
	}
	defer rows.Close()

	var records []types.TrustRecord
	for rows.Next() {
		rec, err := t.scanRecord(rows)
		if err != nil {
			logging.TrustDebug("Skipping unreadable trust row: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HasOwner reports whether at least one identity holds owner trust. Used by
// the first-run bootstrap to decide whether an initial owner may be seeded.
func (t *TrustStore) HasOwner() (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var count int
	err := t.store.db.QueryRow(
		"SELECT COUNT(*) FROM trust_records WHERE level = ?",
		int(types.TrustOwner),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count owners: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of trust records.
func (t *TrustStore) Count() (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var count int
	if err := t.store.db.QueryRow("SELECT COUNT(*) FROM trust_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trust records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (t *TrustStore) scanRecord(row rowScanner) (types.TrustRecord, error) {
	var rec types.TrustRecord
	var level int
	var lastSeen sql.NullTime
	if err := row.Scan(&rec.IdentityID, &rec.DisplayName, &level, &rec.RegisteredBy, &rec.CreatedAt, &rec.UpdatedAt, &lastSeen); err != nil {
		return types.TrustRecord{}, err
	}
	rec.Level = types.TrustLevel(level)
	if lastSeen.Valid {
		rec.LastSeenAt = lastSeen.Time
	}
	return rec, nil
}
