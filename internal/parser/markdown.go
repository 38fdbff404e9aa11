package parser

import "regexp"

// markdownDocument strips lightweight markup down to plain prose.
type markdownDocument struct{}

// substitution is one ordered rewrite rule.
type substitution struct {
	re   *regexp.Regexp
	repl string
}

// markdownRules run in a fixed sequence so that syntax revealed by one rule
// is never re-interpreted by an earlier one: fences drop before inline code,
// images before links (an image is link syntax with a leading bang), and
// emphasis last, once the structural markers are gone.
var markdownRules = []substitution{
	// Fenced code blocks: keep the code, drop the fence lines.
	{regexp.MustCompile("(?m)^```[^\n]*$\n?"), ""},
	// ATX headers.
	{regexp.MustCompile(`(?m)^#{1,6}[ \t]+`), ""},
	// Block quotes.
	{regexp.MustCompile(`(?m)^>[ \t]?`), ""},
	// Unordered list bullets.
	{regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`), ""},
	// Ordered list numbers.
	{regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`), ""},
	// Images: keep the alt text.
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`), "$1"},
	// Links: keep the link text.
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	// Bold, then italic, so ** is not consumed as two single stars.
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`\*([^*]+)\*`), "$1"},
	{regexp.MustCompile(`_([^_]+)_`), "$1"},
	// Inline code.
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	// Horizontal rules.
	{regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`), ""},
}

func (markdownDocument) extract(data []byte) (string, Metadata, error) {
	text := string(data)
	for _, rule := range markdownRules {
		text = rule.re.ReplaceAllString(text, rule.repl)
	}
	return text, Metadata{}, nil
}
