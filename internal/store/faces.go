package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"botnerd/internal/logging"
)

// FaceStore persists one canonical embedding per identity: the L2-normalized
// mean of the enrollment samples. Matching is an in-process cosine scan over
// all rows; the face fleet is tens of identities, not millions, so a full
// scan beats maintaining an ANN index.
type FaceStore struct {
	store *Store
}

// FaceRecord is one stored identity embedding.
type FaceRecord struct {
	IdentityID string
	Embedding  []float32
}

// FaceMatch is the best scoring identity for a probe embedding.
type FaceMatch struct {
	IdentityID string
	Score      float64
}

// SaveEmbedding stores the canonical embedding for an identity.
// Re-enrollment replaces the previous embedding.
func (f *FaceStore) SaveEmbedding(identityID string, embedding []float32) error {
	if identityID == "" {
		return fmt.Errorf("face embedding requires an identity id")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("face embedding for %s is empty", identityID)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	_, err := f.store.db.Exec(
		`INSERT INTO face_embeddings (identity_id, embedding, dims)
		 VALUES (?, ?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET
		 embedding = excluded.embedding,
		 dims = excluded.dims,
		 created_at = CURRENT_TIMESTAMP`,
		identityID, encodeVector(embedding), len(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to store face embedding for %s: %w", identityID, err)
	}

	logging.Store("Face embedding stored: %s (%d dims)", identityID, len(embedding))
	return nil
}

// Match scans all stored embeddings and returns the best cosine match at or
// above threshold. Rows with mismatched dimensions score 0 and never win.
func (f *FaceStore) Match(probe []float32, threshold float64) (FaceMatch, bool) {
	records, err := f.All()
	if err != nil {
		logging.StoreWarn("Face match scan failed: %v", err)
		return FaceMatch{}, false
	}

	best := FaceMatch{}
	for _, rec := range records {
		score := CosineSimilarity(probe, rec.Embedding)
		if score > best.Score {
			best = FaceMatch{IdentityID: rec.IdentityID, Score: score}
		}
	}

	if best.IdentityID == "" || best.Score < threshold {
		return FaceMatch{}, false
	}
	return best, true
}

// All returns every stored face embedding.
func (f *FaceStore) All() ([]FaceRecord, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	rows, err := f.store.db.Query("SELECT identity_id, embedding FROM face_embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to load face embeddings: %w", err)
	}
	defer rows.Close()

	var records []FaceRecord
	for rows.Next() {
		var rec FaceRecord
		var blob []byte
		if err := rows.Scan(&rec.IdentityID, &blob); err != nil {
			logging.StoreDebug("Skipping unreadable face row: %v", err)
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			logging.StoreWarn("Skipping corrupt embedding for %s: %v", rec.IdentityID, err)
			continue
		}
		rec.Embedding = vec
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Remove deletes the embedding for an identity, if present.
func (f *FaceStore) Remove(identityID string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if _, err := f.store.db.Exec("DELETE FROM face_embeddings WHERE identity_id = ?", identityID); err != nil {
		return fmt.Errorf("failed to remove face embedding for %s: %w", identityID, err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (f *FaceStore) Count() (int, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	var count int
	if err := f.store.db.QueryRow("SELECT COUNT(*) FROM face_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count face embeddings: %w", err)
	}
	return count, nil
}

// MeanVector averages enrollment samples element-wise. Samples whose length
// differs from the first are skipped.
func MeanVector(samples [][]float32) []float32 {
	if len(samples) == 0 {
		return nil
	}
	dims := len(samples[0])
	if dims == 0 {
		return nil
	}

	sum := make([]float64, dims)
	used := 0
	for _, sample := range samples {
		if len(sample) != dims {
			continue
		}
		for i, v := range sample {
			sum[i] += float64(v)
		}
		used++
	}
	if used == 0 {
		return nil
	}

	mean := make([]float32, dims)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(used))
	}
	return mean
}

// NormalizeVector scales v to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// encodeVector packs a float32 slice as little-endian bytes, the layout
// sqlite-vec uses for float[] columns.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
