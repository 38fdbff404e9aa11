package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sagekb/sage/internal/llm"
	"github.com/sagekb/sage/internal/retrieval"
)

// mockEmbedder implements QueryEmbedder.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

// mockSearcher implements Searcher.
type mockSearcher struct {
	searchFn func(ctx context.Context, vector []float32, sectorID string, topK int, minScore float32) ([]retrieval.ScoredFragment, error)
}

func (m *mockSearcher) Search(ctx context.Context, vector []float32, sectorID string, topK int, minScore float32) ([]retrieval.ScoredFragment, error) {
	return m.searchFn(ctx, vector, sectorID, topK, minScore)
}

// mockChatter implements Chatter.
type mockChatter struct {
	chatFn func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

func (m *mockChatter) Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	return m.chatFn(ctx, messages, schema)
}

func okEmbedder() *mockEmbedder {
	return &mockEmbedder{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}
}

func fragments(scores ...float32) []retrieval.ScoredFragment {
	out := make([]retrieval.ScoredFragment, len(scores))
	for i, score := range scores {
		out[i] = retrieval.ScoredFragment{
			Fragment: retrieval.Fragment{
				ID:       "frag-" + string(rune('a'+i)),
				SourceID: "src-1",
				SectorID: "docs",
				Content:  "content " + string(rune('a'+i)),
				Metadata: `{"title":"doc"}`,
			},
			Score: score,
		}
	}
	return out
}

func searcherReturning(frags []retrieval.ScoredFragment) *mockSearcher {
	return &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]retrieval.ScoredFragment, error) {
			return frags, nil
		},
	}
}

func chatterReturning(text string) *mockChatter {
	return &mockChatter{
		chatFn: func(_ context.Context, _ []llm.Message, _ *llm.Schema) (string, error) {
			return text, nil
		},
	}
}

func TestAnswer_GroundedResponse(t *testing.T) {
	var gotSystem string
	chatter := &mockChatter{
		chatFn: func(_ context.Context, messages []llm.Message, _ *llm.Schema) (string, error) {
			gotSystem = messages[0].Content
			return "grounded reply", nil
		},
	}
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.95, 0.8)), chatter, nil)

	answer, err := a.Answer(context.Background(), "what is it?", "docs", "", SearchOptions{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Type != ResponseAnswer {
		t.Errorf("type = %q, want answer", answer.Type)
	}
	if answer.Text != "grounded reply" {
		t.Errorf("text = %q", answer.Text)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(answer.Sources))
	}
	if answer.Sources[0].Similarity != 0.95 {
		t.Errorf("source order not preserved: first similarity = %f", answer.Sources[0].Similarity)
	}
	if answer.Sources[0].Metadata["title"] != "doc" {
		t.Errorf("fragment metadata not decoded: %v", answer.Sources[0].Metadata)
	}
	if !strings.Contains(gotSystem, "[Retrieved Context]") {
		t.Error("system prompt missing retrieved context section")
	}
	if !strings.Contains(gotSystem, "content a") {
		t.Error("system prompt missing fragment content")
	}
}

func TestAnswer_NoContext(t *testing.T) {
	chatCalled := false
	chatter := &mockChatter{
		chatFn: func(_ context.Context, _ []llm.Message, _ *llm.Schema) (string, error) {
			chatCalled = true
			return "", nil
		},
	}
	a := NewAnswerer(okEmbedder(), searcherReturning(nil), chatter, nil)

	answer, err := a.Answer(context.Background(), "anything here?", "docs", "", SearchOptions{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Type != ResponseNoContext {
		t.Errorf("type = %q, want no_context", answer.Type)
	}
	if answer.Text == "" {
		t.Error("no-context answer should carry explanatory text")
	}
	if chatCalled {
		t.Error("generation must be skipped when nothing was retrieved")
	}
}

func TestAnswer_EmbedFailure(t *testing.T) {
	embedder := &mockEmbedder{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			return nil, errors.New("model offline")
		},
	}
	a := NewAnswerer(embedder, searcherReturning(nil), chatterReturning(""), nil)

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if answer.Type != ResponseError {
		t.Errorf("type = %q, want error", answer.Type)
	}
}

func TestAnswer_GenerationFailure(t *testing.T) {
	chatter := &mockChatter{
		chatFn: func(_ context.Context, _ []llm.Message, _ *llm.Schema) (string, error) {
			return "", errors.New("timeout")
		},
	}
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.9)), chatter, nil)

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if answer.Type != ResponseError {
		t.Errorf("type = %q, want error", answer.Type)
	}
}

func TestAnswer_DefaultsApplied(t *testing.T) {
	var gotTopK int
	var gotMinScore float32
	searcher := &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, _ string, topK int, minScore float32) ([]retrieval.ScoredFragment, error) {
			gotTopK = topK
			gotMinScore = minScore
			return nil, nil
		},
	}
	a := NewAnswerer(okEmbedder(), searcher, chatterReturning(""), nil)

	if _, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gotTopK != DefaultMaxResults {
		t.Errorf("topK = %d, want %d", gotTopK, DefaultMaxResults)
	}
	if gotMinScore != DefaultMinSimilarity {
		t.Errorf("minScore = %f, want %f", gotMinScore, DefaultMinSimilarity)
	}
}

func TestAnswer_EvaluationFailureIsSwallowed(t *testing.T) {
	// The evaluator shares the Chatter interface; fail only the grading call.
	calls := 0
	chatter := &mockChatter{
		chatFn: func(_ context.Context, _ []llm.Message, schema *llm.Schema) (string, error) {
			calls++
			if calls == 1 {
				return "the answer", nil
			}
			return "", errors.New("grader offline")
		},
	}
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.9)), chatter, NewEvaluator(chatter))

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "the answer" {
		t.Errorf("text = %q", answer.Text)
	}
	if answer.Evaluation != nil {
		t.Error("failed evaluation should be omitted, not zero-valued")
	}
}

func TestAnswer_EvaluationAttached(t *testing.T) {
	calls := 0
	chatter := &mockChatter{
		chatFn: func(_ context.Context, _ []llm.Message, _ *llm.Schema) (string, error) {
			calls++
			if calls == 1 {
				return "the answer", nil
			}
			return `{"groundedness": 0.9, "relevancy": 0.8}`, nil
		},
	}
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.9)), chatter, NewEvaluator(chatter))

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Evaluation == nil {
		t.Fatal("evaluation missing")
	}
	if answer.Evaluation.Groundedness != 0.9 || answer.Evaluation.Relevancy != 0.8 {
		t.Errorf("evaluation = %+v", answer.Evaluation)
	}
}

func TestAnswer_StructuredParsing(t *testing.T) {
	raw := `{"answer": "short version", "sections": [{"heading": "Details", "body": "long version"}]}`
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.9)), chatterReturning(raw), nil)

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{Structured: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "short version" {
		t.Errorf("text = %q", answer.Text)
	}
	if len(answer.Sections) != 1 || answer.Sections[0].Heading != "Details" {
		t.Errorf("sections = %+v", answer.Sections)
	}
}

func TestAnswer_StructuredFallsBackToRaw(t *testing.T) {
	a := NewAnswerer(okEmbedder(), searcherReturning(fragments(0.9)), chatterReturning("not json at all"), nil)

	answer, err := a.Answer(context.Background(), "q", "docs", "", SearchOptions{Structured: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "not json at all" {
		t.Errorf("text = %q", answer.Text)
	}
	if answer.Sections != nil {
		t.Errorf("sections = %+v, want nil", answer.Sections)
	}
}

func TestBuildGroundingPrompt_IncludesConversation(t *testing.T) {
	prompt := buildGroundingPrompt("User: earlier question", []Source{{SourceID: "s", Content: "ctx"}}, 0)
	if !strings.Contains(prompt, "[Conversation So Far]") {
		t.Error("conversation section missing")
	}
	if !strings.Contains(prompt, "User: earlier question") {
		t.Error("conversation content missing")
	}

	fresh := buildGroundingPrompt("", []Source{{SourceID: "s", Content: "ctx"}}, 0)
	if strings.Contains(fresh, "[Conversation So Far]") {
		t.Error("conversation section present for fresh conversation")
	}
}

func TestBuildGroundingPrompt_SkipsOverBudgetSources(t *testing.T) {
	small := Source{SourceID: "small", Content: "tiny"}
	huge := Source{SourceID: "huge", Content: strings.Repeat("x", 100000)}

	prompt := buildGroundingPrompt("", []Source{huge, small}, 200)
	if strings.Contains(prompt, "huge") {
		t.Error("over-budget source was included")
	}
	if !strings.Contains(prompt, "tiny") {
		t.Error("fitting source was skipped")
	}
}
