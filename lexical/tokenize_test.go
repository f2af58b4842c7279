package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hello World", []string{"hello", "world"}},
		{"punctuation", "refactor: the parser (again)!", []string{"refactor", "the", "parser", "again"}},
		{"digits kept", "go1.25 build", []string{"go1", "25", "build"}},
		{"snake and paths", "/usr/local/bin my_var", []string{"usr", "local", "bin", "my", "var"}},
		{"unicode letters", "Größe café", []string{"größe", "café"}},
		{"empty", "", []string{}},
		{"only separators", " -- ++ ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTermFrequencies(t *testing.T) {
	tf := TermFrequencies("the cat and the hat, THE end")
	assert.Equal(t, uint32(3), tf["the"])
	assert.Equal(t, uint32(1), tf["cat"])
	assert.Zero(t, tf["dog"])
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"fix", "bug"}, QueryTerms("fix BUG fix bug"))
	assert.Empty(t, QueryTerms("..."))
}
