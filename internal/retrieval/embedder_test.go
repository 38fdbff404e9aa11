package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// mockEmbedFunc implements EmbedFunc for testing.
type mockEmbedFunc struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func newTestEmbedder(t *testing.T, fn EmbedFunc, cfg EmbedderConfig) *Embedder {
	t.Helper()
	e, err := NewEmbedder(fn, cfg)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	return e
}

func TestNewEmbedder_InvalidConfig(t *testing.T) {
	fn := &mockEmbedFunc{}
	cases := []EmbedderConfig{
		{Dimension: 0, BatchSize: 4},
		{Dimension: -1, BatchSize: 4},
		{Dimension: 384, BatchSize: 0},
	}
	for _, cfg := range cases {
		if _, err := NewEmbedder(fn, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewEmbedder(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestEmbedOne_ReturnsVector(t *testing.T) {
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 384, BatchSize: 4})

	vec, err := e.EmbedOne(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbedOne_BlankInput(t *testing.T) {
	e := newTestEmbedder(t, &mockEmbedFunc{}, EmbedderConfig{Dimension: 4, BatchSize: 1})
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := e.EmbedOne(context.Background(), text); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("EmbedOne(%q) = %v, want ErrEmptyInput", text, err)
		}
	}
}

func TestEmbedOne_WrapsFailure(t *testing.T) {
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 4, BatchSize: 1})

	_, err := e.EmbedOne(context.Background(), "hello")
	if !errors.Is(err, ErrEmbeddingFailed) {
		t.Fatalf("got %v, want ErrEmbeddingFailed", err)
	}
}

func TestEmbedOne_DimensionMismatch(t *testing.T) {
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			return makeVector(100), nil
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 384, BatchSize: 1})

	_, err := e.EmbedOne(context.Background(), "hello")
	if !errors.Is(err, ErrEmbeddingFailed) {
		t.Fatalf("got %v, want ErrEmbeddingFailed", err)
	}
}

func TestEmbedOne_TruncatesOnRuneBoundary(t *testing.T) {
	var gotText string
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, text string) ([]float32, error) {
			gotText = text
			return makeVector(4), nil
		},
	}
	// maxChars = 5*2 = 10; the last é straddles the cut.
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 4, BatchSize: 1, MaxTokens: 5, CharsPerToken: 2})

	if _, err := e.EmbedOne(context.Background(), strings.Repeat("é", 8)); err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(gotText) != 10 {
		t.Errorf("got %d bytes after truncation, want 10", len(gotText))
	}
	if strings.Count(gotText, "é") != 5 {
		t.Errorf("truncation tore a rune: %q", gotText)
	}
}

func TestEmbedMany_PreservesOrder(t *testing.T) {
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, text string) ([]float32, error) {
			// Encode the input in the vector so completion order is visible.
			return []float32{float32(len(text)), 0, 0, 0}, nil
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 4, BatchSize: 3})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d corresponds to input of length %d, want %d", i, int(v[0]), len(texts[i]))
		}
	}
}

func TestEmbedMany_AbortsWholeCall(t *testing.T) {
	var calls atomic.Int32
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, text string) ([]float32, error) {
			calls.Add(1)
			if text == "bad" {
				return nil, errors.New("model exploded")
			}
			return makeVector(4), nil
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 4, BatchSize: 1})

	vecs, err := e.EmbedMany(context.Background(), []string{"ok", "bad", "ok"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrEmbeddingFailed) {
		t.Errorf("got %v, want ErrEmbeddingFailed", err)
	}
	if vecs != nil {
		t.Errorf("got partial results %v, want nil", vecs)
	}
}

func TestEmbedMany_BlankTextRejectedUpfront(t *testing.T) {
	var calls atomic.Int32
	fn := &mockEmbedFunc{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			calls.Add(1)
			return makeVector(4), nil
		},
	}
	e := newTestEmbedder(t, fn, EmbedderConfig{Dimension: 4, BatchSize: 2})

	_, err := e.EmbedMany(context.Background(), []string{"ok", "  ", "ok"})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("got %v, want ErrEmptyInput", err)
	}
	if calls.Load() != 0 {
		t.Errorf("embed called %d times before validation, want 0", calls.Load())
	}
}

func TestEmbedMany_EmptySlice(t *testing.T) {
	e := newTestEmbedder(t, &mockEmbedFunc{}, EmbedderConfig{Dimension: 4, BatchSize: 1})
	vecs, err := e.EmbedMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedMany(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
