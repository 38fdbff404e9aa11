package parser

import (
	"regexp"
	"strings"
)

// Normalization rules, applied in this exact order. The sequence matters:
// horizontal whitespace collapses first, then spaces hugging newlines are
// removed, then excess blank lines fold into a single paragraph break.
var (
	reCarriage   = regexp.MustCompile(`\r\n?`)
	reHorizontal = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	reEdgeSpace  = regexp.MustCompile(` *\n *`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses whitespace into the canonical form shared by every
// format: runs of horizontal whitespace become a single space, three or more
// consecutive newlines become exactly two, and the result is trimmed.
// It must stay bit-identical across formats — chunk byte offsets are
// computed against this output.
func Normalize(text string) string {
	text = reCarriage.ReplaceAllString(text, "\n")
	text = reHorizontal.ReplaceAllString(text, " ")
	text = reEdgeSpace.ReplaceAllString(text, "\n")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
