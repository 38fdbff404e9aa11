package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sagekb/sage/internal/llm"
)

const evaluationTimeout = 10 * time.Second

// Evaluation grades how well a generated answer is backed by its sources.
// Scores are in [0, 1].
type Evaluation struct {
	Groundedness float64 `json:"groundedness"`
	Relevancy    float64 `json:"relevancy"`
}

// Evaluator runs a structured grading pass over a generated answer using a
// chat model. Failures never fail the overall answer — callers drop the
// scores and move on.
type Evaluator struct {
	client Chatter
}

// NewEvaluator creates an Evaluator using the given chat collaborator.
func NewEvaluator(client Chatter) *Evaluator {
	return &Evaluator{client: client}
}

const evaluationSystemPrompt = `You are a strict RAG answer grader. Given a question, the retrieved context, and a generated answer, grade the answer. Your output must be ONLY a single valid JSON object conforming to the provided schema.

Scoring:
- groundedness: 1.0 when every claim in the answer is supported by the context, 0.0 when none are.
- relevancy: 1.0 when the answer fully addresses the question, 0.0 when it is off-topic.`

// Evaluate grades answer against query and sources.
func (e *Evaluator) Evaluate(ctx context.Context, query, answer string, sources []Source) (Evaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, evaluationTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nContext:\n")
	for _, src := range sources {
		sb.WriteString(src.Content)
		sb.WriteString("\n---\n")
	}
	sb.WriteString("\nAnswer:\n")
	sb.WriteString(answer)

	messages := []llm.Message{
		{Role: "system", Content: evaluationSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	raw, err := e.client.Chat(ctx, messages, evaluationSchema())
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation chat: %w", err)
	}

	var result Evaluation
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Evaluation{}, fmt.Errorf("unmarshalling evaluation %q: %w", raw, err)
	}
	return result, nil
}

func evaluationSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"groundedness": {Type: "number", Description: "0.0-1.0, how well the answer is supported by the context"},
			"relevancy":    {Type: "number", Description: "0.0-1.0, how well the answer addresses the question"},
		},
		Required: []string{"groundedness", "relevancy"},
	}
}
