package main

import (
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

var projects = []string{
	"/work/memex", "/work/billing-api", "/work/infra", "/work/web-frontend", "/work/ml-pipeline",
}

var tools = []struct {
	name  string
	input map[string]any
	out   string
}{
	{"Bash", map[string]any{"command": "go test ./..."}, "ok  \tgithub.com/acme/pkg\t0.412s"},
	{"Read", map[string]any{"file_path": "main.go"}, "package main\n\nfunc main() {}"},
	{"Grep", map[string]any{"pattern": "TODO", "path": "."}, "internal/cache.go:42: // TODO: evict by size"},
	{"Edit", map[string]any{"file_path": "config.go", "old_string": "30", "new_string": "60"}, "The file config.go has been updated."},
}

// generator writes synthetic session logs in both supported formats.
type generator struct {
	rng   *rand.Rand
	ids   io.Reader
	out   string
	turns int
	start time.Time
}

func newGenerator(out string, seed uint64, turns int) *generator {
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	chacha := rand.NewChaCha8(key)
	return &generator{
		rng:   rand.New(chacha),
		ids:   chacha,
		out:   out,
		turns: turns,
		start: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (g *generator) sessionID() string {
	id, err := uuid.NewRandomFromReader(g.ids)
	if err != nil {
		panic(err)
	}
	return id.String()
}

func (g *generator) pick(lines []string) string {
	return lines[g.rng.IntN(len(lines))]
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func writeLines(path string, lines [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func marshalLines(values []any) ([][]byte, error) {
	lines := make([][]byte, 0, len(values))
	for _, v := range values {
		data, err := sonic.Marshal(v)
		if err != nil {
			return nil, err
		}
		lines = append(lines, data)
	}
	return lines, nil
}

// claudeSession writes one Claude Code transcript and returns its path.
func (g *generator) claudeSession(prompts iter.Seq[string]) (string, error) {
	session := g.sessionID()
	project := g.pick(projects)
	ts := g.start.Add(time.Duration(g.rng.IntN(30*24)) * time.Hour)

	line := func(typ string, message map[string]any) map[string]any {
		ts = ts.Add(time.Duration(1+g.rng.IntN(20)) * time.Second)
		return map[string]any{
			"type":      typ,
			"sessionId": session,
			"cwd":       project,
			"timestamp": stamp(ts),
			"uuid":      g.sessionID(),
			"message":   message,
		}
	}

	values := []any{map[string]any{"type": "summary", "summary": "synthetic session", "leafUuid": g.sessionID()}}
	turn := 0
	for prompt := range prompts {
		if turn == g.turns {
			break
		}
		values = append(values, line("user", map[string]any{"role": "user", "content": prompt}))

		tool := tools[g.rng.IntN(len(tools))]
		callID := fmt.Sprintf("toolu_%d", turn)
		values = append(values,
			line("assistant", map[string]any{"role": "assistant", "content": []any{
				map[string]any{"type": "text", "text": g.pick(replies)},
				map[string]any{"type": "tool_use", "id": callID, "name": tool.name, "input": tool.input},
			}}),
			line("user", map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": callID, "content": tool.out},
			}}),
		)
		turn++
	}

	lines, err := marshalLines(values)
	if err != nil {
		return "", err
	}
	path := filepath.Join(g.out, "claude", filepath.Base(project), session+".jsonl")
	return path, writeLines(path, lines)
}

// codexSession writes one Codex rollout and returns its path.
func (g *generator) codexSession(prompts iter.Seq[string]) (string, error) {
	session := g.sessionID()
	project := g.pick(projects)
	start := g.start.Add(time.Duration(g.rng.IntN(30*24)) * time.Hour)
	ts := start

	item := func(payload map[string]any) map[string]any {
		ts = ts.Add(time.Duration(1+g.rng.IntN(20)) * time.Second)
		return map[string]any{"timestamp": stamp(ts), "type": "response_item", "payload": payload}
	}

	values := []any{map[string]any{
		"timestamp": stamp(ts),
		"type":      "session_meta",
		"payload":   map[string]any{"id": session, "cwd": project, "timestamp": stamp(ts)},
	}}
	turn := 0
	for prompt := range prompts {
		if turn == g.turns {
			break
		}
		callID := fmt.Sprintf("call_%d", turn)
		values = append(values,
			item(map[string]any{"type": "message", "role": "user", "content": []any{
				map[string]any{"type": "input_text", "text": prompt},
			}}),
			item(map[string]any{"type": "function_call", "name": "shell", "call_id": callID,
				"arguments": `{"command":["bash","-lc","go build ./..."]}`}),
			item(map[string]any{"type": "function_call_output", "call_id": callID,
				"output": `{"output":"build ok","metadata":{"exit_code":0}}`}),
			item(map[string]any{"type": "message", "role": "assistant", "content": []any{
				map[string]any{"type": "output_text", "text": g.pick(replies)},
			}}),
		)
		turn++
	}

	lines, err := marshalLines(values)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("rollout-%s-%s.jsonl", start.Format("2006-01-02T15-04-05"), session)
	path := filepath.Join(g.out, "codex", start.Format("2006/01/02"), name)
	return path, writeLines(path, lines)
}

// draw yields random picks from lines until the consumer stops.
func (g *generator) draw(lines []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for len(lines) > 0 {
			if !yield(g.pick(lines)) {
				return
			}
		}
	}
}
