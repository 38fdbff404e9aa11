// Package ingest runs the document ingestion pipeline: parse the raw
// payload, split it into overlapping chunks, embed the chunks, and store
// the embedded fragments in the vector index.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sagekb/sage/internal/chunker"
	"github.com/sagekb/sage/internal/parser"
	"github.com/sagekb/sage/internal/retrieval"
	"github.com/sagekb/sage/internal/storage"
)

// FragmentInserter stores embedded fragments.
type FragmentInserter interface {
	Insert(ctx context.Context, fragments []retrieval.Fragment) error
}

// ChunkEmbedder turns chunk texts into vectors, order-preserving.
type ChunkEmbedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore records ingested document bookkeeping.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc storage.Document) error
}

// Document is one raw payload queued for ingestion.
type Document struct {
	Title    string
	SectorID string
	Format   parser.Format
	Data     []byte
}

// Result reports the outcome for one document. A failed document carries
// its error here; it never aborts the rest of the batch.
type Result struct {
	Title      string
	DocumentID string
	ChunkCount int
	PageCount  int
	Err        error
}

// Pipeline ingests documents. Stateless; safe for concurrent use.
type Pipeline struct {
	chunking chunker.Config
	embedder ChunkEmbedder
	index    FragmentInserter
	docs     DocumentStore
	workers  int
	logger   *slog.Logger
}

// New creates a Pipeline. workers bounds how many documents are processed
// at once; if <= 0, it defaults to 2.
func New(chunking chunker.Config, embedder ChunkEmbedder, index FragmentInserter, docs DocumentStore, workers int) *Pipeline {
	if workers <= 0 {
		workers = 2
	}
	return &Pipeline{
		chunking: chunking,
		embedder: embedder,
		index:    index,
		docs:     docs,
		workers:  workers,
		logger:   slog.Default(),
	}
}

// IngestAll processes each document independently and returns per-document
// results in input order. One malformed document fails only its own entry.
func (p *Pipeline) IngestAll(ctx context.Context, documents []Document) []Result {
	results := make([]Result, len(documents))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, doc := range documents {
		g.Go(func() error {
			results[i] = p.ingestOne(gCtx, doc)
			if results[i].Err != nil {
				p.logger.Warn("document ingestion failed",
					"title", doc.Title, "format", string(doc.Format), "error", results[i].Err)
			}
			return nil
		})
	}
	g.Wait()

	return results
}

// IngestOne processes a single document.
func (p *Pipeline) IngestOne(ctx context.Context, doc Document) Result {
	return p.ingestOne(ctx, doc)
}

// ingestOne is all-or-nothing: fragments reach the index only after every
// chunk has its embedding, so the store never holds a partial chunk set.
func (p *Pipeline) ingestOne(ctx context.Context, doc Document) Result {
	result := Result{Title: doc.Title}

	parsed, err := parser.Parse(doc.Data, doc.Format)
	if err != nil {
		result.Err = fmt.Errorf("parsing %q: %w", doc.Title, err)
		return result
	}
	result.PageCount = parsed.Metadata.PageCount

	chunks, err := chunker.Chunk(parsed.Content, p.chunking)
	if err != nil {
		result.Err = fmt.Errorf("chunking %q: %w", doc.Title, err)
		return result
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		result.Err = fmt.Errorf("embedding %q: %w", doc.Title, err)
		return result
	}

	docID := uuid.New().String()
	now := time.Now().UTC()

	fragments := make([]retrieval.Fragment, len(chunks))
	for i, c := range chunks {
		fragments[i] = retrieval.Fragment{
			ID:        uuid.New().String(),
			SourceID:  docID,
			SectorID:  doc.SectorID,
			Content:   c.Content,
			Position:  c.Position,
			Embedding: vectors[i],
			CreatedAt: now,
			Metadata:  fragmentMetadata(doc.Title, c),
		}
	}

	if err := p.index.Insert(ctx, fragments); err != nil {
		result.Err = fmt.Errorf("indexing %q: %w", doc.Title, err)
		return result
	}

	if p.docs != nil {
		record := storage.Document{
			ID:         docID,
			SectorID:   doc.SectorID,
			Title:      doc.Title,
			Format:     string(doc.Format),
			ByteSize:   parsed.Metadata.ByteSize,
			PageCount:  parsed.Metadata.PageCount,
			ChunkCount: len(chunks),
			CreatedAt:  now,
		}
		if err := p.docs.SaveDocument(ctx, record); err != nil {
			// The fragments are searchable; a missing bookkeeping row is
			// worth a warning, not a failed ingestion.
			p.logger.Warn("saving document record failed", "document_id", docID, "error", err)
		}
	}

	result.DocumentID = docID
	result.ChunkCount = len(chunks)
	return result
}

func fragmentMetadata(title string, c chunker.TextChunk) string {
	md := map[string]string{
		"title":       title,
		"start_index": strconv.Itoa(c.StartIndex),
		"end_index":   strconv.Itoa(c.EndIndex),
	}
	data, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(data)
}
