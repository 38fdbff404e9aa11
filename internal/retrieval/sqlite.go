package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

// SQLiteIndex provides vector storage and brute-force cosine similarity
// search backed by SQLite. Embeddings are stored as little-endian float32
// blobs in the fragments table (created via storage migrations).
//
// Brute force holds up well into the tens of thousands of fragments per
// sector; beyond that, swap in an ANN-backed VectorIndex implementation.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The fragments table must already exist.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Insert adds fragments to the index in one transaction. Either every
// fragment lands or none does.
func (s *SQLiteIndex) Insert(ctx context.Context, fragments []Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fragments (id, source_id, sector_id, content, position, embedding, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		blob := encodeFloat32s(f.Embedding)
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(f.ID, f.SourceID, f.SectorID, f.Content, f.Position, blob, createdAt.Format(time.RFC3339), f.Metadata); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting fragment %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full fragment rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all vectors in
// the sector, returning the top-K most similar fragments in descending
// score order. Scores are raw cosine similarity, passed through unmodified.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, sectorID string, topK int, minScore float32) ([]ScoredFragment, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM fragments WHERE sector_id = ?`, sectorID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if score < minScore {
			continue
		}
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full fragments only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, source_id, sector_id, content, position, embedding, created_at, metadata
		FROM fragments WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K fragments: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredFragment
	for fullRows.Next() {
		f, err := scanFragment(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredFragment{Fragment: f, Score: scores[f.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full fragments: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// sortByScore sorts ScoredFragments by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredFragment) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// DeleteBySource removes all fragments ingested from one source document.
func (s *SQLiteIndex) DeleteBySource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fragments WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("deleting fragments for source %s: %w", sourceID, err)
	}
	return nil
}

// Count returns the number of fragments stored for a sector.
func (s *SQLiteIndex) Count(ctx context.Context, sectorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments WHERE sector_id = ?", sectorID).Scan(&count)
	return count, err
}

// scanFragment reads one full fragment row.
func scanFragment(rows *sql.Rows) (Fragment, error) {
	var f Fragment
	var blob []byte
	var createdAt string
	if err := rows.Scan(&f.ID, &f.SourceID, &f.SectorID, &f.Content, &f.Position, &blob, &createdAt, &f.Metadata); err != nil {
		return Fragment{}, fmt.Errorf("scanning fragment: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Fragment{}, fmt.Errorf("decoding embedding for %s: %w", f.ID, err)
	}
	f.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Fragment{}, fmt.Errorf("parsing created_at for %s: %w", f.ID, err)
	}
	f.CreatedAt = t
	return f, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
