package chunker

import (
	"math"
	"strings"
)

// tokensPerWord is a fixed multiplier approximating subword tokenization.
// It is not tied to any real tokenizer; callers needing exact LLM token
// accounting must not treat the estimate as authoritative.
const tokensPerWord = 1.3

// EstimateTokens approximates the token count of arbitrary text as
// ceil(words x 1.3).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * tokensPerWord))
}
