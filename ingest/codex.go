package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/memex/core"
	"github.com/tidwall/gjson"
)

// CodexParser reads Codex CLI rollout files. Lines are shaped
// {"timestamp", "type", "payload"}; a session_meta line names the session
// and working directory, response_item lines carry the conversation.
type CodexParser struct {
	logger *slog.Logger
}

// NewCodexParser creates a parser for Codex rollouts.
func NewCodexParser(opts ...Option) *CodexParser {
	o := buildOptions(opts)
	return &CodexParser{logger: o.logger.With("component", "ingest", "source", core.SourceCodex.String())}
}

func (p *CodexParser) Source() core.Source { return core.SourceCodex }

func (p *CodexParser) Parse(ctx context.Context, path string, r io.ReaderAt, start int64, state core.ParserState, emit func(*core.Record) error) (Result, error) {
	result := Result{Offset: start, State: state.Clone()}
	e := &emitter{source: core.SourceCodex, path: path, emit: emit, result: &result}

	end, err := scanLines(ctx, r, start, func(offset int64, line []byte) error {
		if !gjson.ValidBytes(line) {
			result.Skipped++
			p.logger.Warn("skipping malformed line", "path", path, "offset", offset)
			return nil
		}
		doc := gjson.ParseBytes(line)
		ts := parseTimestamp(doc.Get("timestamp").String())
		payload := doc.Get("payload")

		switch doc.Get("type").String() {
		case "session_meta":
			if id := payload.Get("id").String(); id != "" {
				result.State.SessionID = id
			}
			if cwd := payload.Get("cwd").String(); cwd != "" {
				result.State.Project = cwd
			}
			return nil
		case "turn_context":
			if cwd := payload.Get("cwd").String(); cwd != "" {
				result.State.Project = cwd
			}
			return nil
		case "event_msg", "compacted":
			// Mirrors of response items.
			return nil
		case "response_item":
			return p.responseItem(e, &result.State, offset, ts, payload)
		case "message", "reasoning", "function_call", "function_call_output",
			"custom_tool_call", "custom_tool_call_output", "local_shell_call":
			// Early rollouts write response items unwrapped.
			return p.responseItem(e, &result.State, offset, ts, doc)
		case "":
			// Early rollouts open with a bare header object.
			if id := doc.Get("id").String(); id != "" && offset == 0 {
				result.State.SessionID = id
				return nil
			}
			if doc.Get("record_type").String() == "state" {
				return nil
			}
		}
		result.Skipped++
		p.logger.Warn("skipping line of unknown shape", "path", path, "offset", offset)
		return nil
	})
	result.Offset = end
	return result, err
}

func (p *CodexParser) responseItem(e *emitter, state *core.ParserState, offset, ts int64, item gjson.Result) error {
	switch item.Get("type").String() {
	case "message":
		var role core.Role
		switch item.Get("role").String() {
		case "user":
			role = core.RoleUser
		case "assistant":
			role = core.RoleAssistant
		default:
			// system and developer prompts are not conversation
			return nil
		}
		content := item.Get("content")
		if content.Type == gjson.String {
			return e.record(offset, 0, role, ts, "", content.String())
		}
		part := 0
		var err error
		content.ForEach(func(_, block gjson.Result) bool {
			index := part
			part++
			err = e.record(offset, index, role, ts, "", block.Get("text").String())
			return err == nil
		})
		return err

	case "function_call", "custom_tool_call":
		name := item.Get("name").String()
		state.AddCall(item.Get("call_id").String(), name)
		args := item.Get("arguments")
		if !args.Exists() {
			args = item.Get("input")
		}
		return e.record(offset, 0, core.RoleToolUse, ts, name, name+"\n"+flattenJSON(args))

	case "local_shell_call":
		state.AddCall(item.Get("call_id").String(), "shell")
		var argv []string
		item.Get("action.command").ForEach(func(_, arg gjson.Result) bool {
			argv = append(argv, arg.String())
			return true
		})
		return e.record(offset, 0, core.RoleToolUse, ts, "shell", "shell\n"+strings.Join(argv, " "))

	case "function_call_output", "custom_tool_call_output":
		name := state.ResolveCall(item.Get("call_id").String())
		return e.record(offset, 0, core.RoleToolResult, ts, name, toolOutput(item.Get("output")))
	}
	// reasoning and other item kinds carry nothing to index
	return nil
}

// toolOutput extracts the text of a function output, which is either plain
// text, a JSON string wrapping {"output": ...}, or an object with content.
func toolOutput(v gjson.Result) string {
	if v.Type == gjson.String {
		s := v.String()
		if t := strings.TrimSpace(s); strings.HasPrefix(t, "{") && gjson.Valid(t) {
			if out := gjson.Get(t, "output"); out.Exists() {
				return out.String()
			}
		}
		return s
	}
	if content := v.Get("content"); content.Exists() {
		return contentText(content)
	}
	return flattenJSON(v)
}
