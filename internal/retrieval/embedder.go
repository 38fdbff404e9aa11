// Package retrieval turns text into fixed-dimension vectors and finds the
// most similar stored fragments for a query, scoped per sector.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// ErrEmptyInput is returned when asked to embed blank text.
var ErrEmptyInput = errors.New("empty input")

// ErrInvalidConfig is returned at construction for unusable batcher settings.
var ErrInvalidConfig = errors.New("invalid embedder config")

// ErrEmbeddingFailed wraps any failure surfaced by the embedding function.
var ErrEmbeddingFailed = errors.New("embedding failed")

// EmbedFunc is the external embedding collaborator: one text in, one
// fixed-dimension vector out. Dimension determinism is assumed, content
// determinism is not.
type EmbedFunc interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig controls batching and the truncation ceiling.
type EmbedderConfig struct {
	// Dimension is the vector size the embedding model produces.
	Dimension int
	// BatchSize bounds how many texts are in flight at once.
	BatchSize int
	// MaxTokens x CharsPerToken is the character ceiling per text;
	// longer texts are truncated with a warning, never rejected.
	MaxTokens     int
	CharsPerToken int
}

const (
	defaultMaxTokens     = 2048
	defaultCharsPerToken = 4
)

// Embedder batches texts through an EmbedFunc, preserving input order
// regardless of completion order.
type Embedder struct {
	fn       EmbedFunc
	cfg      EmbedderConfig
	maxChars int
	logger   *slog.Logger
}

// NewEmbedder creates an Embedder. Dimension and BatchSize must be positive;
// MaxTokens and CharsPerToken fall back to defaults when unset.
func NewEmbedder(fn EmbedFunc, cfg EmbedderConfig) (*Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, cfg.BatchSize)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = defaultCharsPerToken
	}
	return &Embedder{
		fn:       fn,
		cfg:      cfg,
		maxChars: cfg.MaxTokens * cfg.CharsPerToken,
		logger:   slog.Default(),
	}, nil
}

// Dimension returns the configured vector dimension.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// EmbedOne returns the embedding vector for a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	vec, err := e.fn.Embed(ctx, e.truncate(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vec) != e.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(vec), e.cfg.Dimension)
	}
	return vec, nil
}

// EmbedMany returns embedding vectors for multiple texts. Output index i
// always corresponds to input index i. Texts are dispatched concurrently up
// to BatchSize; a failure on any one text aborts the whole call — there is
// no partial-success mode.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d is blank", ErrEmptyInput, i)
		}
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchSize)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.EmbedOne(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// truncate enforces the character ceiling, backing up to a rune boundary
// so the collaborator never sees a torn UTF-8 sequence.
func (e *Embedder) truncate(text string) string {
	if len(text) <= e.maxChars {
		return text
	}
	cut := e.maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	e.logger.Warn("truncating text before embedding",
		"original_chars", len(text),
		"max_chars", e.maxChars,
	)
	return text[:cut]
}
