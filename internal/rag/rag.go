// Package rag answers a query by embedding it, retrieving the most similar
// fragments within a sector, and grounding a generated response in them.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sagekb/sage/internal/llm"
	"github.com/sagekb/sage/internal/retrieval"
)

// ResponseType classifies the outcome of one answer attempt.
type ResponseType string

const (
	ResponseAnswer    ResponseType = "answer"
	ResponseNoContext ResponseType = "no_context"
	ResponseError     ResponseType = "error"
)

// Default search bounds, used when the caller leaves options unset.
const (
	DefaultMaxResults    = 5
	DefaultMinSimilarity = 0.7
)

// SearchOptions bound the retrieval step.
type SearchOptions struct {
	MaxResults    int
	MinSimilarity float32
	// Structured requests the generation collaborator's structured-output
	// mode. Best-effort: absence of structure in the reply is not an error.
	Structured bool
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	return o
}

// Source is one retrieved fragment backing an answer. Similarity is the
// raw score from the vector index, passed through unmodified.
type Source struct {
	FragmentID string
	SourceID   string
	Content    string
	Similarity float32
	Metadata   map[string]string
}

// Section is one heading/body pair of a structured answer.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Answer is the result of one RAG invocation. Sources preserve the vector
// index ranking. Evaluation is present only when the grading pass succeeded.
type Answer struct {
	Text       string
	Type       ResponseType
	Sources    []Source
	Sections   []Section
	Evaluation *Evaluation
}

// QueryEmbedder embeds the query text.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the vector-search collaborator, scoped by sector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, sectorID string, topK int, minScore float32) ([]retrieval.ScoredFragment, error)
}

// Chatter is the text-generation collaborator.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Answerer orchestrates embed, search, generate, and the optional
// evaluation pass.
type Answerer struct {
	embedder  QueryEmbedder
	searcher  Searcher
	generator Chatter
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewAnswerer wires the orchestrator. evaluator may be nil to skip the
// grading pass entirely.
func NewAnswerer(embedder QueryEmbedder, searcher Searcher, generator Chatter, evaluator *Evaluator) *Answerer {
	return &Answerer{
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		evaluator: evaluator,
		logger:    slog.Default(),
	}
}

const noContextResponse = "I could not find anything relevant in the knowledge base for this question. " +
	"Try rephrasing it, or ingest the documents that cover this topic first."

// Answer runs the full pipeline for one query. conversationContext carries
// the rendered recent history ("" for a fresh conversation).
//
// Zero retrieval results is a normal outcome (ResponseNoContext), not an
// error. Embedding, search, or generation failures are terminal for this
// query; an evaluation failure only drops the Evaluation field.
func (a *Answerer) Answer(ctx context.Context, query, sectorID, conversationContext string, opts SearchOptions) (Answer, error) {
	opts = opts.withDefaults()

	vec, err := a.embedder.EmbedOne(ctx, query)
	if err != nil {
		return Answer{Type: ResponseError}, fmt.Errorf("embedding query for sector %s: %w", sectorID, err)
	}

	scored, err := a.searcher.Search(ctx, vec, sectorID, opts.MaxResults, opts.MinSimilarity)
	if err != nil {
		return Answer{Type: ResponseError}, fmt.Errorf("searching sector %s: %w", sectorID, err)
	}

	if len(scored) == 0 {
		return Answer{Type: ResponseNoContext, Text: noContextResponse}, nil
	}

	sources := scoredToSources(scored)
	messages := []llm.Message{
		{Role: "system", Content: buildGroundingPrompt(conversationContext, sources, 0)},
		{Role: "user", Content: query},
	}

	var schema *llm.Schema
	if opts.Structured {
		schema = answerSchema()
	}

	raw, err := a.generator.Chat(ctx, messages, schema)
	if err != nil {
		return Answer{Type: ResponseError}, fmt.Errorf("generating answer for sector %s: %w", sectorID, err)
	}

	answer := Answer{Type: ResponseAnswer, Sources: sources}
	answer.Text, answer.Sections = parseGenerated(raw, opts.Structured)

	if a.evaluator != nil {
		ev, err := a.evaluator.Evaluate(ctx, query, answer.Text, sources)
		if err != nil {
			a.logger.Warn("answer evaluation failed, omitting scores", "sector", sectorID, "error", err)
		} else {
			answer.Evaluation = &ev
		}
	}

	return answer, nil
}

// structuredAnswer mirrors the JSON shape requested by answerSchema.
type structuredAnswer struct {
	Answer   string    `json:"answer"`
	Sections []Section `json:"sections"`
}

// parseGenerated extracts text and optional sections from the raw model
// output. When structured output was requested but the reply is not valid
// JSON, the raw text is used as-is — structure is best-effort.
func parseGenerated(raw string, structured bool) (string, []Section) {
	if !structured {
		return strings.TrimSpace(raw), nil
	}
	var out structuredAnswer
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.Answer == "" {
		return strings.TrimSpace(raw), nil
	}
	return out.Answer, out.Sections
}

func answerSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"answer":   {Type: "string", Description: "The complete answer, grounded in the provided context"},
			"sections": {Type: "array", Description: "Optional heading/body sections breaking the answer down"},
		},
		Required: []string{"answer"},
	}
}

func scoredToSources(scored []retrieval.ScoredFragment) []Source {
	sources := make([]Source, len(scored))
	for i, s := range scored {
		sources[i] = Source{
			FragmentID: s.ID,
			SourceID:   s.SourceID,
			Content:    s.Content,
			Similarity: s.Score,
			Metadata:   decodeFragmentMetadata(s.Metadata),
		}
	}
	return sources
}

// decodeFragmentMetadata parses the fragment's JSON metadata, returning nil
// for empty or unparseable payloads.
func decodeFragmentMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
