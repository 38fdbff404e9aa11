package retrieval

import (
	"context"
	"time"
)

// Fragment is one embedded chunk of a source document as stored in the
// vector index. SectorID is the tenant isolation key: searches never cross it.
type Fragment struct {
	ID        string
	SourceID  string
	SectorID  string
	Content   string
	Position  int
	Embedding []float32
	CreatedAt time.Time
	Metadata  string // JSON object stored as text
}

// ScoredFragment is a Fragment with a similarity score attached.
type ScoredFragment struct {
	Fragment
	Score float32
}

// VectorIndex is the vector-search collaborator. The default implementation
// uses SQLite with brute-force cosine similarity; an ANN-capable backend can
// replace it behind the same interface.
type VectorIndex interface {
	// Insert adds fragments to the index in one transaction.
	Insert(ctx context.Context, fragments []Fragment) error

	// Search returns the top-K fragments most similar to vector within the
	// given sector, best first. Fragments scoring below minScore are
	// excluded. The sector boundary is absolute: no cross-sector results.
	Search(ctx context.Context, vector []float32, sectorID string, topK int, minScore float32) ([]ScoredFragment, error)

	// DeleteBySource removes all fragments ingested from one source document.
	DeleteBySource(ctx context.Context, sourceID string) error

	// Count returns the number of fragments stored for a sector.
	Count(ctx context.Context, sectorID string) (int, error)
}
