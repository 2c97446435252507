package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"botnerd/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the robot's SQLite database: the identity -> trust mapping the
// action gate consults and the face embeddings the vision worker matches
// against. One file, one connection, writes serialized by mu. Trust reads go
// to the database every time so a registration is visible to the very next
// gate decision.
//
// Usage:
//
//	st, _ := store.Open(".bot/bot.db")
//	defer st.Close()
//	level := st.Trust().Lookup("owner-cli")
//	match, ok := st.Faces().Match(probe, 0.45)
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available

	trust *TrustStore
	faces *FaceStore
}

// Open initializes the SQLite database at the given path, creating the file
// and parent directories on first run.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// PRAGMA synchronous=NORMAL provides 5-10x write speedup with WAL mode
	// (vs FULL which is default). Safe because WAL already provides crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	logging.StoreDebug("Opened SQLite database connection")

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; face matching uses in-process cosine scan")
	}

	s.trust = &TrustStore{store: s}
	s.faces = &FaceStore{store: s}

	logging.Store("Store ready (trust records + face embeddings)")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	// Identity -> trust mapping. UNIQUE identity_id gives Register its
	// update-not-duplicate semantics via upsert.
	trustTable := `
	CREATE TABLE IF NOT EXISTS trust_records (
		identity_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		registered_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_trust_level ON trust_records(level);
	`

	// One canonical embedding per identity (the L2-normalized mean of the
	// enrollment samples). Re-enrollment replaces the row.
	facesTable := `
	CREATE TABLE IF NOT EXISTS face_embeddings (
		identity_id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		dims INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, table := range []string{
		trustTable,
		facesTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Run schema migrations for databases created by older builds.
	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Indexes on migrated columns come last.
	migratedIndexes := `
	CREATE INDEX IF NOT EXISTS idx_trust_updated ON trust_records(updated_at);
	`
	if _, err := s.db.Exec(migratedIndexes); err != nil {
		logging.StoreWarn("Failed to create trust record indexes: %v", err)
	}

	return nil
}

// Trust returns the identity -> trust level view of the store.
func (s *Store) Trust() *TrustStore {
	return s.trust
}

// Faces returns the face embedding view of the store.
func (s *Store) Faces() *FaceStore {
	return s.faces
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// HasVectorExt reports whether the sqlite-vec extension loaded.
func (s *Store) HasVectorExt() bool {
	return s.vectorExt
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available in this build.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero-norm inputs score 0, which no match threshold accepts.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dotProduct += af * bf
		normA += af * af
		normB += bf * bf
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Stats returns row counts per table for the status surfaces.
func (s *Store) Stats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"trust_records", "face_embeddings"}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			logging.StoreDebug("Table %s count failed (may not exist): %v", table, err)
			continue
		}
		stats[table] = count
	}

	return stats, nil
}
