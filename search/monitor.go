package search

import (
	"log/slog"

	"github.com/poiesic/memex/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(q Query)
	AfterLexicalSearch(terms []string, matches int)
	AfterSemanticSearch(matches int)
	SemanticUnavailable(err error)
	AfterFiltering(candidates, kept int)
	AfterGrouping(kept int)
	Finish(hits []core.ScoredHit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                       {}
func (n *noopMonitor) AfterLexicalSearch(_ []string, _ int) {}
func (n *noopMonitor) AfterSemanticSearch(_ int)            {}
func (n *noopMonitor) SemanticUnavailable(_ error)          {}
func (n *noopMonitor) AfterFiltering(_, _ int)              {}
func (n *noopMonitor) AfterGrouping(_ int)                  {}
func (n *noopMonitor) Finish(_ []core.ScoredHit)            {}

// LogMonitor reports each search stage to a logger at info level.
type LogMonitor struct {
	logger *slog.Logger
}

var _ SearchMonitor = (*LogMonitor)(nil)

// NewLogMonitor creates a monitor writing to logger.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger.With("component", "search")}
}

func (m *LogMonitor) Start(q Query) {
	m.logger.Info("search", "query", q.Text, "mode", q.Mode.String(), "limit", q.Limit)
}

func (m *LogMonitor) AfterLexicalSearch(terms []string, matches int) {
	m.logger.Info("lexical matches", "terms", terms, "matches", matches)
}

func (m *LogMonitor) AfterSemanticSearch(matches int) {
	m.logger.Info("semantic matches", "matches", matches)
}

func (m *LogMonitor) SemanticUnavailable(err error) {
	m.logger.Warn("semantic scoring skipped", "err", err)
}

func (m *LogMonitor) AfterFiltering(candidates, kept int) {
	m.logger.Info("filtered", "candidates", candidates, "kept", kept)
}

func (m *LogMonitor) AfterGrouping(kept int) {
	m.logger.Info("grouped by session", "kept", kept)
}

func (m *LogMonitor) Finish(hits []core.ScoredHit) {
	m.logger.Info("results", "hits", len(hits))
}
