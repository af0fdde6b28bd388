// Package normalize produces the canonical matching form of memory content.
// Normalized text is what gets embedded and what lexical matching runs
// against, so the transform must be deterministic and idempotent.
package normalize

import (
	"strings"
	"unicode"

	"github.com/tsawler/prose/v3"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Text normalizes mixed Japanese/Latin content: Unicode NFKC, full-width to
// half-width folding, lower-casing, then tokenization with punctuation-only
// tokens removed and single-space joining. Empty input yields "".
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = width.Fold.String(norm.NFKC.String(s))
	s = strings.ToLower(s)

	toks := tokenize(s)
	return strings.Join(toks, " ")
}

// tokenize splits normalized text into word tokens. CJK runs come back as
// contiguous tokens; Latin text is segmented word by word. Falls back to
// whitespace splitting if the tokenizer rejects the input.
func tokenize(s string) []string {
	doc, err := prose.NewDocument(s,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(s)
	}

	var out []string
	for _, tok := range doc.Tokens() {
		if tok.Text == "" || isPunct(tok.Text) {
			continue
		}
		out = append(out, tok.Text)
	}
	return out
}

// isPunct reports whether the token consists entirely of punctuation or
// symbol runes.
func isPunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
