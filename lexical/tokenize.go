package lexical

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on every rune that is neither a
// letter nor a digit. Empty tokens are dropped.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// TermFrequencies counts the occurrences of each token in text.
func TermFrequencies(text string) map[string]uint32 {
	tokens := Tokenize(text)
	tf := make(map[string]uint32, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// QueryTerms returns the distinct tokens of a query in order of first
// occurrence. Repeating a word in a query does not weight it twice.
func QueryTerms(query string) []string {
	tokens := Tokenize(query)
	seen := make(map[string]bool, len(tokens))
	terms := tokens[:0]
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}
