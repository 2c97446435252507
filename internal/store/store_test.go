package store

import (
	"math"
	"path/filepath"
	"testing"

	"botnerd/internal/types"
)

func TestOpenCreatesSchema(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if st.DB() == nil {
		t.Error("DB returned nil")
	}

	stats, err := st.Stats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	for _, table := range []string{"trust_records", "face_embeddings"} {
		count, ok := stats[table]
		if !ok {
			t.Errorf("Stats missing table: %s", table)
		}
		if count != 0 {
			t.Errorf("Expected empty table %s, got %d rows", table, count)
		}
	}
}

func TestTrustLookupAbsentIsUnknown(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if got := st.Trust().Lookup("never-seen"); got != types.TrustUnknown {
		t.Errorf("Absent identity should be unknown, got %s", got)
	}
}

func TestTrustUpsertAndLookup(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	if err := trust.Upsert(types.TrustRecord{IdentityID: "alice", DisplayName: "Alice", Level: types.TrustKnown, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("Failed to upsert alice: %v", err)
	}
	if err := trust.Upsert(types.TrustRecord{IdentityID: "owner-cli", Level: types.TrustOwner, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("Failed to upsert owner: %v", err)
	}

	if got := trust.Lookup("alice"); got != types.TrustKnown {
		t.Errorf("alice should be known, got %s", got)
	}
	if got := trust.Lookup("owner-cli"); got != types.TrustOwner {
		t.Errorf("owner-cli should be owner, got %s", got)
	}

	rec, ok := trust.Get("alice")
	if !ok {
		t.Fatal("Get(alice) should find the record")
	}
	if rec.DisplayName != "Alice" || rec.RegisteredBy != "owner-cli" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("Timestamps should be set on insert")
	}
}

func TestTrustReRegisterUpdatesInPlace(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	if err := trust.Upsert(types.TrustRecord{IdentityID: "bob", Level: types.TrustGuest, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if err := trust.Upsert(types.TrustRecord{IdentityID: "bob", Level: types.TrustKnown, RegisteredBy: "alice"}); err != nil {
		t.Fatalf("Re-registration failed: %v", err)
	}

	count, err := trust.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Re-registration must update, not duplicate: got %d rows", count)
	}

	rec, ok := trust.Get("bob")
	if !ok {
		t.Fatal("bob should exist")
	}
	if rec.Level != types.TrustKnown {
		t.Errorf("Level should be updated to known, got %s", rec.Level)
	}
	if rec.RegisteredBy != "alice" {
		t.Errorf("RegisteredBy should follow the latest registration, got %q", rec.RegisteredBy)
	}
}

func TestTrustTouchSeenRecordsSighting(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	if err := trust.Upsert(types.TrustRecord{IdentityID: "alice", Level: types.TrustKnown, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, ok := trust.Get("alice")
	if !ok {
		t.Fatal("alice should exist")
	}
	if !rec.LastSeenAt.IsZero() {
		t.Errorf("Never-sighted identity should have zero LastSeenAt, got %v", rec.LastSeenAt)
	}

	if err := trust.TouchSeen("alice"); err != nil {
		t.Fatalf("TouchSeen failed: %v", err)
	}
	rec, ok = trust.Get("alice")
	if !ok {
		t.Fatal("alice should still exist")
	}
	if rec.LastSeenAt.IsZero() {
		t.Error("TouchSeen should set LastSeenAt")
	}
	if rec.Level != types.TrustKnown {
		t.Errorf("TouchSeen must not change the level, got %s", rec.Level)
	}
}

func TestTrustTouchSeenNeverCreatesRecords(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	if err := trust.TouchSeen("stranger"); err != nil {
		t.Fatalf("TouchSeen on an absent identity should be a no-op, got: %v", err)
	}
	if err := trust.TouchSeen(""); err != nil {
		t.Fatalf("TouchSeen with an empty id should be a no-op, got: %v", err)
	}

	count, err := trust.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("A sighting alone must never create trust, got %d rows", count)
	}
}

func TestTrustUpsertRejectsInvalid(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	if err := trust.Upsert(types.TrustRecord{Level: types.TrustGuest}); err == nil {
		t.Error("Empty identity id should be rejected")
	}
	if err := trust.Upsert(types.TrustRecord{IdentityID: "x", Level: types.TrustLevel(9)}); err == nil {
		t.Error("Out-of-range level should be rejected")
	}
}

func TestTrustListOrdersByLevel(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	for _, rec := range []types.TrustRecord{
		{IdentityID: "guest-1", Level: types.TrustGuest, RegisteredBy: "owner-cli"},
		{IdentityID: "owner-cli", Level: types.TrustOwner, RegisteredBy: "owner-cli"},
		{IdentityID: "alice", Level: types.TrustKnown, RegisteredBy: "owner-cli"},
	} {
		if err := trust.Upsert(rec); err != nil {
			t.Fatalf("Upsert %s failed: %v", rec.IdentityID, err)
		}
	}

	records, err := trust.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[0].IdentityID != "owner-cli" || records[1].IdentityID != "alice" || records[2].IdentityID != "guest-1" {
		t.Errorf("Unexpected order: %s, %s, %s", records[0].IdentityID, records[1].IdentityID, records[2].IdentityID)
	}
}

func TestHasOwner(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	trust := st.Trust()
	has, err := trust.HasOwner()
	if err != nil {
		t.Fatalf("HasOwner failed: %v", err)
	}
	if has {
		t.Error("Fresh store should have no owner")
	}

	if err := trust.Upsert(types.TrustRecord{IdentityID: "owner-cli", Level: types.TrustOwner, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	has, err = trust.HasOwner()
	if err != nil {
		t.Fatalf("HasOwner failed: %v", err)
	}
	if !has {
		t.Error("Owner registration should be visible")
	}
}

func TestTrustSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bot.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := st.Trust().Upsert(types.TrustRecord{IdentityID: "alice", Level: types.TrustKnown, RegisteredBy: "owner-cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen runs schema creation and migrations again; both must be
	// idempotent and the record must still be there.
	st2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer st2.Close()

	if got := st2.Trust().Lookup("alice"); got != types.TrustKnown {
		t.Errorf("Record should survive reopen, got %s", got)
	}
}

func TestTrustLookupFailsClosed(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	st.Close()

	// Queries against a closed database error out; that must read as
	// unknown, never as elevated trust.
	if got := st.Trust().Lookup("owner-cli"); got != types.TrustUnknown {
		t.Errorf("Broken store must report unknown, got %s", got)
	}
}

func TestFaceMatchPicksBestAboveThreshold(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	faces := st.Faces()
	if err := faces.SaveEmbedding("alice", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("SaveEmbedding alice failed: %v", err)
	}
	if err := faces.SaveEmbedding("bob", []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("SaveEmbedding bob failed: %v", err)
	}

	probe := NormalizeVector([]float32{0.9, 0.1, 0, 0})
	match, ok := faces.Match(probe, 0.45)
	if !ok {
		t.Fatal("Probe near alice should match")
	}
	if match.IdentityID != "alice" {
		t.Errorf("Expected alice, got %s (score %.3f)", match.IdentityID, match.Score)
	}
	if match.Score <= 0.9 {
		t.Errorf("Score should be high for a near-identical probe, got %.3f", match.Score)
	}

	// Orthogonal probe scores 0 against both and must not match.
	if _, ok := faces.Match([]float32{0, 0, 1, 0}, 0.45); ok {
		t.Error("Orthogonal probe should not match anyone")
	}

	// Dimension mismatch scores 0 rather than erroring.
	if _, ok := faces.Match([]float32{1, 0}, 0.45); ok {
		t.Error("Mismatched dimensions should not match anyone")
	}
}

func TestFaceReEnrollReplaces(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	faces := st.Faces()
	if err := faces.SaveEmbedding("alice", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("First enrollment failed: %v", err)
	}
	if err := faces.SaveEmbedding("alice", []float32{0, 0, 0, 1}); err != nil {
		t.Fatalf("Re-enrollment failed: %v", err)
	}

	count, err := faces.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Re-enrollment must replace, not duplicate: got %d rows", count)
	}

	match, ok := faces.Match([]float32{0, 0, 0, 1}, 0.9)
	if !ok || match.IdentityID != "alice" {
		t.Errorf("New embedding should be the one matched, got %+v ok=%v", match, ok)
	}
}

func TestFaceRemove(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	faces := st.Faces()
	if err := faces.SaveEmbedding("alice", []float32{1, 0}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}
	if err := faces.Remove("alice"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := faces.Match([]float32{1, 0}, 0.1); ok {
		t.Error("Removed embedding should not match")
	}
}

func TestMeanVectorAndNormalize(t *testing.T) {
	mean := MeanVector([][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{1, 0}, // wrong dimensionality, skipped
	})
	if len(mean) != 4 {
		t.Fatalf("Expected 4 dims, got %d", len(mean))
	}
	if math.Abs(float64(mean[0])-0.5) > 1e-6 || math.Abs(float64(mean[1])-0.5) > 1e-6 {
		t.Errorf("Unexpected mean: %v", mean)
	}

	norm := NormalizeVector(mean)
	var sum float64
	for _, x := range norm {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("Normalized vector should have unit norm, got %.6f", sum)
	}

	if MeanVector(nil) != nil {
		t.Error("Mean of no samples should be nil")
	}

	// Zero vector cannot be normalized and comes back unchanged.
	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Zero vector should be unchanged, got %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Identical vectors should score 1, got %.6f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Orthogonal vectors should score 0, got %.6f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("Mismatched lengths should score 0, got %.6f", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("Zero vector should score 0, got %.6f", got)
	}
}

func TestDecodeVectorRejectsBadBlob(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("Blob with length not a multiple of 4 should be rejected")
	}

	v := []float32{0.25, -1.5, 3.0}
	decoded, err := decodeVector(encodeVector(v))
	if err != nil {
		t.Fatalf("Round trip failed: %v", err)
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Errorf("Element %d: expected %f, got %f", i, v[i], decoded[i])
		}
	}
}
