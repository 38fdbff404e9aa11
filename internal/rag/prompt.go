package rag

import (
	"fmt"
	"strings"
)

const defaultMaxContextTokens = 4000

const groundingInstructions = `You are a knowledge-base assistant. Answer the user's question using ONLY the retrieved context below. If the context does not contain the answer, say so plainly instead of guessing. Cite facts from the context; do not invent sources.`

// buildGroundingPrompt assembles the system prompt from the conversation
// history and the ranked sources, respecting a token budget. Sources arrive
// already ranked by the vector index; the order is preserved, and entries
// that would blow the budget are skipped rather than re-ranked.
func buildGroundingPrompt(conversationContext string, sources []Source, maxContextTokens int) string {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	var sb strings.Builder
	sb.WriteString(groundingInstructions)

	if conversationContext != "" {
		sb.WriteString("\n\n[Conversation So Far]\n")
		sb.WriteString(conversationContext)
	}

	contextHeader := "\n\n[Retrieved Context]\n"
	remaining := maxContextTokens - estimateTokens(sb.String()) - estimateTokens(contextHeader)

	var selected []string
	for _, src := range sources {
		entry := formatSource(src)
		tokens := estimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(contextHeader)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}

	return sb.String()
}

func formatSource(src Source) string {
	return fmt.Sprintf("(Similarity: %.2f, Source: %s)\n%s\n\n", src.Similarity, src.SourceID, src.Content)
}

// estimateTokens provides a rough token count using 4 chars per token heuristic.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
