package ingest

import (
	"strings"
	"testing"

	"github.com/poiesic/memex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const codexLog = `{"timestamp":"2025-04-02T09:00:00.000Z","type":"session_meta","payload":{"id":"0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b","cwd":"/work/api","timestamp":"2025-04-02T09:00:00.000Z"}}
{"timestamp":"2025-04-02T09:00:01.000Z","type":"response_item","payload":{"type":"message","role":"developer","content":[{"type":"input_text","text":"system rules"}]}}
{"timestamp":"2025-04-02T09:00:02.000Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"why is the build failing"}]}}
{"timestamp":"2025-04-02T09:00:03.000Z","type":"event_msg","payload":{"type":"user_message","message":"why is the build failing"}}
{"timestamp":"2025-04-02T09:00:04.000Z","type":"response_item","payload":{"type":"reasoning","summary":[]}}
{"timestamp":"2025-04-02T09:00:05.000Z","type":"response_item","payload":{"type":"function_call","name":"shell","arguments":"{\"command\":[\"go\",\"build\",\"./...\"]}","call_id":"call_1"}}
{"timestamp":"2025-04-02T09:00:06.000Z","type":"response_item","payload":{"type":"function_call_output","call_id":"call_1","output":"{\"output\":\"undefined: parseConfig\",\"metadata\":{\"exit_code\":1}}"}}
{"timestamp":"2025-04-02T09:00:07.000Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"parseConfig was renamed."}]}}
`

func TestCodexParser_Parse(t *testing.T) {
	records, result := collect(t, NewCodexParser(), "/codex/rollout-2025-04-02T09-00-00-0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b.jsonl", codexLog, 0, core.ParserState{})

	require.Len(t, records, 4)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, int64(len(codexLog)), result.Offset)
	assert.Equal(t, "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", result.State.SessionID)
	assert.Equal(t, "/work/api", result.State.Project)

	assert.Equal(t, core.RoleUser, records[0].Role)
	assert.Equal(t, "why is the build failing", records[0].Text)
	assert.Equal(t, "/work/api", records[0].Project)

	assert.Equal(t, core.RoleToolUse, records[1].Role)
	assert.Equal(t, "shell", records[1].Tool)
	assert.Contains(t, records[1].Text, "command: go")
	assert.Contains(t, records[1].Text, "command: build")

	assert.Equal(t, core.RoleToolResult, records[2].Role)
	assert.Equal(t, "shell", records[2].Tool)
	assert.Equal(t, "undefined: parseConfig", records[2].Text)

	assert.Equal(t, core.RoleAssistant, records[3].Role)
	for _, r := range records {
		assert.Equal(t, core.SourceCodex, r.Source)
		assert.Equal(t, "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", r.SessionID)
	}
}

func TestCodexParser_ResumeUsesCarriedState(t *testing.T) {
	lines := strings.SplitAfter(codexLog, "\n")
	head := lines[0]

	_, first := collect(t, NewCodexParser(), "/codex/x.jsonl", head, 0, core.ParserState{})
	require.Equal(t, int64(len(head)), first.Offset)

	rest, _ := collect(t, NewCodexParser(), "/codex/x.jsonl", codexLog, first.Offset, first.State)
	full, _ := collect(t, NewCodexParser(), "/codex/x.jsonl", codexLog, 0, core.ParserState{})
	require.Len(t, rest, len(full))
	for i := range full {
		assert.Equal(t, full[i].DocID, rest[i].DocID)
		assert.Equal(t, full[i].SessionID, rest[i].SessionID)
	}
}

func TestCodexParser_ToolOutputAfterResume(t *testing.T) {
	lines := strings.SplitAfter(codexLog, "\n")
	head := strings.Join(lines[:6], "")

	_, first := collect(t, NewCodexParser(), "/codex/x.jsonl", head, 0, core.ParserState{})
	assert.Equal(t, []core.ToolCall{{ID: "call_1", Name: "shell"}}, first.State.PendingCalls)

	rest, second := collect(t, NewCodexParser(), "/codex/x.jsonl", codexLog, first.Offset, first.State)
	require.Len(t, rest, 2)
	assert.Equal(t, core.RoleToolResult, rest[0].Role)
	assert.Equal(t, "shell", rest[0].Tool)
	assert.Nil(t, second.State.PendingCalls)
}

func TestCodexParser_SessionFromRolloutName(t *testing.T) {
	data := `{"timestamp":"2025-04-02T09:00:02.000Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"hello"}]}}` + "\n"
	records, _ := collect(t, NewCodexParser(), "/codex/rollout-2025-04-02T09-00-00-0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b.jsonl", data, 0, core.ParserState{})
	require.Len(t, records, 1)
	assert.Equal(t, "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", records[0].SessionID)
}

func TestCodexParser_LegacyHeader(t *testing.T) {
	data := `{"id":"legacy-1","timestamp":"2025-01-01T00:00:00Z","instructions":null}` + "\n" +
		`{"record_type":"state"}` + "\n" +
		`{"type":"message","role":"user","content":[{"type":"input_text","text":"old format"}]}` + "\n" +
		`{"unexpected":true}` + "\n"

	records, result := collect(t, NewCodexParser(), "/codex/old.jsonl", data, 0, core.ParserState{})
	require.Len(t, records, 1)
	assert.Equal(t, "legacy-1", records[0].SessionID)
	assert.Equal(t, 1, result.Skipped)
}

func TestToolOutput(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"plain", `"exit 0"`, "exit 0"},
		{"wrapped", `"{\"output\":\"done\"}"`, "done"},
		{"content", `{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toolOutput(gjsonParse(tt.json)))
		})
	}
}
