package ingest

import (
	"context"
	"io"
	"log/slog"

	"github.com/poiesic/memex/core"
	"github.com/tidwall/gjson"
)

// claudeMetaTypes are line types that carry no conversation content.
var claudeMetaTypes = map[string]bool{
	"summary":               true,
	"system":                true,
	"file-history-snapshot": true,
	"queue-operation":       true,
}

// ClaudeParser reads Claude Code session transcripts. Every line is a
// JSON object with sessionId, timestamp, cwd, type and a message whose
// content is a string or an array of text, tool_use and tool_result blocks.
type ClaudeParser struct {
	logger *slog.Logger
}

// NewClaudeParser creates a parser for Claude Code transcripts.
func NewClaudeParser(opts ...Option) *ClaudeParser {
	o := buildOptions(opts)
	return &ClaudeParser{logger: o.logger.With("component", "ingest", "source", core.SourceClaude.String())}
}

func (p *ClaudeParser) Source() core.Source { return core.SourceClaude }

func (p *ClaudeParser) Parse(ctx context.Context, path string, r io.ReaderAt, start int64, state core.ParserState, emit func(*core.Record) error) (Result, error) {
	result := Result{Offset: start, State: state.Clone()}
	e := &emitter{source: core.SourceClaude, path: path, emit: emit, result: &result}

	end, err := scanLines(ctx, r, start, func(offset int64, line []byte) error {
		if !gjson.ValidBytes(line) {
			result.Skipped++
			p.logger.Warn("skipping malformed line", "path", path, "offset", offset)
			return nil
		}
		doc := gjson.ParseBytes(line)

		typ := doc.Get("type").String()
		if claudeMetaTypes[typ] {
			return nil
		}
		if typ != "user" && typ != "assistant" {
			result.Skipped++
			p.logger.Warn("skipping line of unknown shape", "path", path, "offset", offset, "type", typ)
			return nil
		}

		if sid := doc.Get("sessionId").String(); sid != "" {
			result.State.SessionID = sid
		}
		if cwd := doc.Get("cwd").String(); cwd != "" {
			result.State.Project = cwd
		}
		ts := parseTimestamp(doc.Get("timestamp").String())

		role := core.RoleUser
		if doc.Get("message.role").String() == "assistant" || typ == "assistant" {
			role = core.RoleAssistant
		}

		content := doc.Get("message.content")
		if content.Type == gjson.String {
			return e.record(offset, 0, role, ts, "", content.String())
		}
		if !content.IsArray() {
			result.Skipped++
			p.logger.Warn("skipping message without content", "path", path, "offset", offset)
			return nil
		}

		part := 0
		var recErr error
		content.ForEach(func(_, block gjson.Result) bool {
			index := part
			part++
			switch block.Get("type").String() {
			case "text":
				recErr = e.record(offset, index, role, ts, "", block.Get("text").String())
			case "tool_use":
				name := block.Get("name").String()
				result.State.AddCall(block.Get("id").String(), name)
				text := name + "\n" + flattenJSON(block.Get("input"))
				recErr = e.record(offset, index, core.RoleToolUse, ts, name, text)
			case "tool_result":
				name := result.State.ResolveCall(block.Get("tool_use_id").String())
				recErr = e.record(offset, index, core.RoleToolResult, ts, name, contentText(block.Get("content")))
			}
			return recErr == nil
		})
		return recErr
	})
	result.Offset = end
	return result, err
}
