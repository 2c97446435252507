// Schema migrations for the robot database. Additive column migrations keep
// databases created by older builds loadable without a manual rebuild.
package store

import (
	"database/sql"
	"fmt"

	"botnerd/internal/logging"
)

// Migration defines a database schema migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply.
// These handle cases where tables exist but are missing newer columns.
var pendingMigrations = []Migration{
	// Registration audit trail (added with owner-gated registration)
	{"trust_records", "registered_by", "TEXT NOT NULL DEFAULT ''"},
	{"trust_records", "updated_at", "DATETIME"},
	// Presence audit trail (added with recognition-driven sighting updates)
	{"trust_records", "last_seen_at", "DATETIME"},
	// Embedding dimensionality check (added with mean-embedding enrollment)
	{"face_embeddings", "dims", "INTEGER NOT NULL DEFAULT 0"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	logging.StoreDebug("Running schema migrations (%d pending)", len(pendingMigrations))

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		// If the table doesn't exist in this DB, skip quietly.
		if !tableExists(db, m.Table) {
			skippedCount++
			continue
		}

		if !columnExists(db, m.Table, m.Column) {
			query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
			logging.StoreDebug("Executing migration: %s", query)

			if _, err := db.Exec(query); err != nil {
				logging.StoreWarn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
				// Don't fail on migration errors - column may already exist in a different form
				skippedCount++
			} else {
				logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
				appliedCount++
			}
		} else {
			skippedCount++
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", appliedCount, skippedCount)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
