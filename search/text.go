package search

import (
	"strings"
	"unicode"

	"github.com/poiesic/memex/lexical"
)

// DefaultSnippetWidth is the snippet length in runes.
const DefaultSnippetWidth = 160

// Snippet returns about width runes of text around the first token that
// matches a query term, collapsing whitespace. Without a match it returns
// the start of the text. Cut ends are marked with "...".
func Snippet(text, query string, width int) string {
	if width <= 0 {
		width = DefaultSnippetWidth
	}
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= width {
		return flat
	}

	at := firstMatch(runes, lexical.QueryTerms(query))
	start := max(at-width/4, 0)
	end := min(start+width, len(runes))
	start = max(end-width, 0)

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(strings.TrimSpace(string(runes[start:end])))
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}

// firstMatch returns the rune index of the first token equal to a term,
// or 0.
func firstMatch(runes []rune, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}

	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	for i := 0; i < len(runes); {
		if !isWord(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && isWord(runes[j]) {
			j++
		}
		if want[strings.ToLower(string(runes[i:j]))] {
			return i
		}
		i = j
	}
	return 0
}

