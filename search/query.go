package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/memex/core"
)

// Mode selects which scorers run.
type Mode int

const (
	// ModeExact scores lexically; every query term must match unless Relaxed.
	ModeExact Mode = iota
	// ModeSemantic scores by embedding similarity only.
	ModeSemantic
	// ModeHybrid blends normalized lexical and semantic scores.
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeSemantic:
		return "semantic"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// SortOrder orders the final hits. Ties are broken by doc id ascending.
type SortOrder int

const (
	// SortDefault is SortScore, or SortTime for a filter-only listing.
	SortDefault SortOrder = iota
	// SortScore orders by combined score, highest first.
	SortScore
	// SortTime orders by timestamp, newest first.
	SortTime
)

func (s SortOrder) String() string {
	switch s {
	case SortDefault:
		return "default"
	case SortScore:
		return "score"
	case SortTime:
		return "ts"
	default:
		return "unknown"
	}
}

// ParseSort converts a sort name.
func ParseSort(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SortDefault, nil
	case "score":
		return SortScore, nil
	case "ts", "time":
		return SortTime, nil
	default:
		return 0, fmt.Errorf("%w: unknown sort %q", core.ErrQuery, s)
	}
}

// Filters restrict hits. Zero values match everything; all set filters
// must hold.
type Filters struct {
	Project   string // exact project path
	Role      core.Role
	Tool      string
	SessionID string
	Source    core.Source
	Since     time.Time // inclusive
	Until     time.Time // inclusive
	MinScore  float64
}

// Any reports whether any record filter is set. MinScore is not counted.
func (f Filters) Any() bool {
	return f.Project != "" || f.Role != 0 || f.Tool != "" || f.SessionID != "" ||
		f.Source != 0 || !f.Since.IsZero() || !f.Until.IsZero()
}

// Match reports whether a record passes every filter except MinScore.
func (f Filters) Match(r *core.Record) bool {
	switch {
	case f.Project != "" && r.Project != f.Project:
		return false
	case f.Role != 0 && r.Role != f.Role:
		return false
	case f.Tool != "" && !strings.EqualFold(r.Tool, f.Tool):
		return false
	case f.SessionID != "" && r.SessionID != f.SessionID:
		return false
	case f.Source != 0 && r.Source != f.Source:
		return false
	case !f.Since.IsZero() && r.Timestamp < f.Since.Unix():
		return false
	case !f.Until.IsZero() && r.Timestamp > f.Until.Unix():
		return false
	}
	return true
}

// Query is one search request.
type Query struct {
	Text    string
	Mode    Mode
	Filters Filters
	Sort    SortOrder

	// TopNPerSession keeps only the N best hits of each session; 0 keeps all.
	TopNPerSession int

	// UniqueSession keeps the single best hit per session.
	UniqueSession bool

	// Limit caps the number of hits; 0 means no limit.
	Limit int

	// Relaxed lets exact mode match any term instead of all.
	Relaxed bool
}

// Validate checks the query for invalid combinations.
func (q *Query) Validate() error {
	if q.Mode < ModeExact || q.Mode > ModeHybrid {
		return fmt.Errorf("%w: unknown mode %d", core.ErrQuery, q.Mode)
	}
	if q.Sort < SortDefault || q.Sort > SortTime {
		return fmt.Errorf("%w: unknown sort %d", core.ErrQuery, q.Sort)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", core.ErrQuery)
	}
	if q.TopNPerSession < 0 {
		return fmt.Errorf("%w: top-n-per-session must not be negative", core.ErrQuery)
	}
	if q.UniqueSession && q.TopNPerSession > 1 {
		return fmt.Errorf("%w: unique-session conflicts with top-n-per-session %d", core.ErrQuery, q.TopNPerSession)
	}
	f := q.Filters
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until) {
		return fmt.Errorf("%w: since is after until", core.ErrQuery)
	}
	if f.Role != 0 {
		if err := core.ValidateRole(f.Role); err != nil {
			return fmt.Errorf("%w: %w", core.ErrQuery, err)
		}
	}
	if f.Source != 0 {
		if err := core.ValidateSource(f.Source); err != nil {
			return fmt.Errorf("%w: %w", core.ErrQuery, err)
		}
	}
	return nil
}

// perSession returns the grouping bound, 0 for none.
func (q *Query) perSession() int {
	if q.UniqueSession {
		return 1
	}
	return q.TopNPerSession
}
