// Package chunker splits normalized text into overlapping, token-bounded
// chunks sized for embedding. Tokens are whitespace-delimited words.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidConfig is returned when the chunking parameters cannot produce
// a terminating sliding window.
var ErrInvalidConfig = errors.New("invalid chunking config")

// ErrEmptyInput is returned for blank input text.
var ErrEmptyInput = errors.New("empty input")

// Config controls the sliding window. All sizes are in word tokens.
type Config struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
}

// DefaultConfig matches the embedding model's comfortable context size.
var DefaultConfig = Config{ChunkSize: 400, Overlap: 50, MinChunkSize: 50}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, chunk size %d)", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	if c.MinChunkSize < 0 || c.ChunkSize <= c.MinChunkSize {
		return fmt.Errorf("%w: min chunk size %d must be below chunk size %d", ErrInvalidConfig, c.MinChunkSize, c.ChunkSize)
	}
	return nil
}

// TextChunk is one bounded span of a source document's text.
// StartIndex/EndIndex are byte offsets into the normalized source text.
type TextChunk struct {
	Content    string
	Position   int
	TokenCount int
	StartIndex int
	EndIndex   int
}

// token is a word with its byte span in the source text.
type token struct {
	text  string
	start int
	end   int
}

// Chunk splits text into overlapping chunks via a sliding window.
//
// The window advances by ChunkSize-Overlap tokens per step. A trailing
// window shorter than MinChunkSize is not emitted on its own: its unseen
// tokens are folded into the previous chunk instead, so no chunk except
// possibly the first falls below the minimum size.
func Chunk(text string, cfg Config) ([]TextChunk, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	tokens := tokenize(text)
	n := len(tokens)
	step := cfg.ChunkSize - cfg.Overlap

	var chunks []TextChunk
	for start := 0; start < n; start += step {
		remaining := n - start

		if len(chunks) > 0 && remaining < cfg.MinChunkSize {
			// Tail-merge: the previous window already covers tokens up to
			// start-step+ChunkSize; only the tokens beyond that are new.
			prev := &chunks[len(chunks)-1]
			prevEnd := start - step + cfg.ChunkSize
			if prevEnd < n {
				prev.Content += " " + joinTokens(tokens[prevEnd:n])
				prev.TokenCount = EstimateTokens(prev.Content)
				prev.EndIndex = tokens[n-1].end
			}
			break
		}

		end := start + cfg.ChunkSize
		if end > n {
			end = n
		}

		content := joinTokens(tokens[start:end])
		chunks = append(chunks, TextChunk{
			Content:    content,
			Position:   len(chunks),
			TokenCount: EstimateTokens(content),
			StartIndex: tokens[start].start,
			EndIndex:   tokens[end-1].end,
		})

		if end == n {
			break
		}
	}

	return chunks, nil
}

// tokenize splits text on whitespace, recording each token's byte span.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{text: text[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: text[start:], start: start, end: len(text)})
	}
	return tokens
}

func joinTokens(tokens []token) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.text)
	}
	return sb.String()
}
