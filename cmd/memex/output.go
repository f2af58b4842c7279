package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gosuri/uitable"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/search"
)

var knownFields = []string{
	"score", "lexical_score", "semantic_score", "ts", "doc_id", "session_id",
	"source", "role", "tool", "project", "snippet", "text",
}

var (
	defaultSearchFields = []string{"score", "ts", "doc_id", "session_id", "source", "role", "tool", "project", "snippet"}
	defaultRecordFields = []string{"ts", "doc_id", "session_id", "source", "role", "tool", "project", "text"}
)

// parseFields splits a comma separated field list. An empty list selects
// the defaults.
func parseFields(s string, defaults []string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return defaults, nil
	}
	var fields []string
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !slices.Contains(knownFields, f) {
			return nil, fmt.Errorf("%w: unknown field %q", core.ErrQuery, f)
		}
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return defaults, nil
	}
	return fields, nil
}

type format int

const (
	formatLines format = iota
	formatArray
	formatTable
)

type renderer struct {
	w      io.Writer
	fields []string
	format format
	query  string
	width  int
}

func (r *renderer) value(hit core.ScoredHit, field string) any {
	rec := hit.Record
	switch field {
	case "score":
		return hit.CombinedScore
	case "lexical_score":
		return hit.LexicalScore
	case "semantic_score":
		return hit.SemanticScore
	case "ts":
		return rec.Timestamp
	case "doc_id":
		return rec.DocID.String()
	case "session_id":
		return rec.SessionID
	case "source":
		return rec.Source.String()
	case "role":
		return rec.Role.String()
	case "tool":
		return rec.Tool
	case "project":
		return rec.Project
	case "snippet":
		return search.Snippet(rec.Text, r.query, r.width)
	case "text":
		return rec.Text
	}
	return nil
}

func (r *renderer) object(hit core.ScoredHit) map[string]any {
	obj := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		obj[f] = r.value(hit, f)
	}
	return obj
}

func (r *renderer) render(hits []core.ScoredHit) error {
	switch r.format {
	case formatArray:
		objs := make([]map[string]any, 0, len(hits))
		for _, h := range hits {
			objs = append(objs, r.object(h))
		}
		data, err := sonic.ConfigStd.Marshal(objs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.w, "%s\n", data)
		return err
	case formatTable:
		return r.table(hits)
	default:
		enc := sonic.ConfigStd.NewEncoder(r.w)
		for _, h := range hits {
			if err := enc.Encode(r.object(h)); err != nil {
				return err
			}
		}
		return nil
	}
}

func (r *renderer) table(hits []core.ScoredHit) error {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	header := make([]any, len(r.fields))
	for i, f := range r.fields {
		header[i] = strings.ToUpper(f)
	}
	table.AddRow(header...)

	for _, h := range hits {
		row := make([]any, len(r.fields))
		for i, f := range r.fields {
			row[i] = r.cell(h, f)
		}
		table.AddRow(row...)
	}
	_, err := fmt.Fprintln(r.w, table)
	return err
}

func (r *renderer) cell(hit core.ScoredHit, field string) any {
	switch v := r.value(hit, field).(type) {
	case float64:
		return fmt.Sprintf("%.4f", v)
	case string:
		if field == "snippet" || field == "text" {
			return strings.Join(strings.Fields(v), " ")
		}
		return v
	default:
		if field == "ts" {
			return hit.Record.Time().Format(time.RFC3339)
		}
		return v
	}
}

func recordHits(records []*core.Record) []core.ScoredHit {
	hits := make([]core.ScoredHit, len(records))
	for i, rec := range records {
		hits[i] = core.ScoredHit{DocID: rec.DocID, Record: rec}
	}
	return hits
}
