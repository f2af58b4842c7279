package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// Score is the contribution of one query term to a document:
// (1 + ln tf) * ln(1 + N/df). It grows with tf and with N/df.
func Score(tf uint32, docCount, docFreq int64) float64 {
	if tf == 0 || docFreq <= 0 || docCount <= 0 {
		return 0
	}
	return (1 + math.Log(float64(tf))) * math.Log(1+float64(docCount)/float64(docFreq))
}

// Index scores documents against query terms using the posting lists of
// one snapshot.
type Index struct {
	postings storage.PostingReader
	logger   *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger for the index.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// NewIndex creates an Index over a posting reader.
func NewIndex(postings storage.PostingReader, opts ...Option) *Index {
	ix := &Index{postings: postings}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	ix.logger = ix.logger.With("component", "lexical")
	return ix
}

// Search returns the score of every document containing at least one of
// terms. When all is set a document must contain every term.
func (ix *Index) Search(ctx context.Context, terms []string, all bool) (map[core.ID]float64, error) {
	scores := make(map[core.ID]float64)
	if len(terms) == 0 {
		return scores, nil
	}

	n, err := ix.postings.DocCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading document count: %w", err)
	}

	matched := make(map[core.ID]int)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := ix.postings.Postings(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("reading postings for %q: %w", term, err)
		}
		if len(list) == 0 {
			if all {
				ix.logger.Debug("term has no postings", "term", term)
				return map[core.ID]float64{}, nil
			}
			continue
		}
		df := int64(len(list))
		for _, p := range list {
			scores[p.DocID] += Score(p.TF, n, df)
			matched[p.DocID]++
		}
	}

	if all {
		for id, count := range matched {
			if count < len(terms) {
				delete(scores, id)
			}
		}
	}
	return scores, nil
}
