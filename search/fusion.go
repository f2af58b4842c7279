package search

import (
	"cmp"
	"slices"

	"github.com/poiesic/memex/core"
)

// fuse sets the combined score of each hit. Exact mode uses the raw
// lexical score and semantic mode the raw cosine; hybrid min-max
// normalizes each component over the candidates and blends them.
func fuse(mode Mode, hits []core.ScoredHit, wL, wS float64) []core.ScoredHit {
	switch mode {
	case ModeExact:
		for i := range hits {
			hits[i].CombinedScore = hits[i].LexicalScore
		}
	case ModeSemantic:
		for i := range hits {
			hits[i].CombinedScore = hits[i].SemanticScore
		}
	case ModeHybrid:
		nL := normalize(hits, func(h core.ScoredHit) float64 { return h.LexicalScore })
		nS := normalize(hits, func(h core.ScoredHit) float64 { return h.SemanticScore })
		for i := range hits {
			hits[i].CombinedScore = wL*nL[i] + wS*nS[i]
		}
	}
	return hits
}

// normalize maps a score component onto [0,1] with min-max scaling. When
// every value is equal, positive values map to 1 and the rest to 0.
func normalize(hits []core.ScoredHit, score func(core.ScoredHit) float64) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := score(hits[0]), score(hits[0])
	for _, h := range hits[1:] {
		v := score(h)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, h := range hits {
		v := score(h)
		switch {
		case hi > lo:
			out[i] = (v - lo) / (hi - lo)
		case v > 0:
			out[i] = 1
		}
	}
	return out
}

// byScore orders hits by combined score, highest first, then doc id.
func byScore(a, b core.ScoredHit) int {
	return cmp.Or(cmp.Compare(b.CombinedScore, a.CombinedScore), cmp.Compare(a.DocID, b.DocID))
}

// byTime orders hits newest first, then doc id.
func byTime(a, b core.ScoredHit) int {
	return cmp.Or(cmp.Compare(b.Record.Timestamp, a.Record.Timestamp), cmp.Compare(a.DocID, b.DocID))
}

func sortHits(hits []core.ScoredHit, order SortOrder) {
	if order == SortTime {
		slices.SortFunc(hits, byTime)
		return
	}
	slices.SortFunc(hits, byScore)
}

// groupBySession keeps the n best hits of each session.
func groupBySession(hits []core.ScoredHit, n int) []core.ScoredHit {
	slices.SortFunc(hits, byScore)
	counts := make(map[string]int)
	kept := hits[:0]
	for _, h := range hits {
		if counts[h.Record.SessionID] < n {
			counts[h.Record.SessionID]++
			kept = append(kept, h)
		}
	}
	return kept
}
