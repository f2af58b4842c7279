package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/indexer"
	"github.com/poiesic/memex/search"
	"github.com/poiesic/memex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v2"
)

func TestSetupLogger(t *testing.T) {
	newTestApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "warn",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		testCases := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"WaRn", slog.LevelWarn},
			{"ERROR", slog.LevelError},
		}

		for _, tc := range testCases {
			t.Run(tc.input, func(t *testing.T) {
				err := newTestApp(func(c *cli.Context) error {
					assert.True(t, slog.Default().Enabled(c.Context, tc.expected))
					assert.False(t, slog.Default().Enabled(c.Context, tc.expected-1))
					return nil
				}).Run([]string{"test", "--log-level", tc.input})
				require.NoError(t, err)
			})
		}
	})

	t.Run("invalid log level is a config error", func(t *testing.T) {
		err := newTestApp(noop).Run([]string{"test", "-l", "verbose"})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrConfig)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("%w: bad", core.ErrConfig), exitConfig},
		{fmt.Errorf("%w: dangling posting", core.ErrIndexCorruption), exitCorruption},
		{search.ErrEmptyQuery, exitQuery},
		{core.ErrLockTimeout, exitBusy},
		{fmt.Errorf("open: %w", core.ErrIndexBusy), exitBusy},
		{storage.ErrNotFound, exitFailure},
		{errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields("", defaultSearchFields)
	require.NoError(t, err)
	assert.Equal(t, defaultSearchFields, fields)

	fields, err = parseFields(" doc_id, SCORE ,doc_id,", defaultSearchFields)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_id", "score"}, fields)

	_, err = parseFields("score,colour", defaultSearchFields)
	assert.ErrorIs(t, err, core.ErrQuery)
}

func TestParseTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime("2025-03-01T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1740823200), got.Unix())

	got, err = parseTime("2025-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 1, got.Day())

	got, err = parseTime("48h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), got)

	_, err = parseTime("last tuesday", now)
	assert.ErrorIs(t, err, core.ErrQuery)
}

func TestBuildQuery(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	run := func(args ...string) (search.Query, error) {
		var q search.Query
		var qerr error
		app := &cli.App{
			Name:  "test",
			Flags: searchFlags(),
			Action: func(c *cli.Context) error {
				q, qerr = buildQuery(c, now)
				return nil
			},
		}
		require.NoError(t, app.Run(append([]string{"test"}, args...)))
		return q, qerr
	}

	q, err := run("--hybrid", "--role", "tool_use", "--tool", "Bash", "--source", "codex",
		"--since", "24h", "--sort", "ts", "--limit", "5", "--top-n-per-session", "2", "refactor", "parser")
	require.NoError(t, err)
	assert.Equal(t, "refactor parser", q.Text)
	assert.Equal(t, search.ModeHybrid, q.Mode)
	assert.Equal(t, search.SortTime, q.Sort)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 2, q.TopNPerSession)
	assert.Equal(t, core.RoleToolUse, q.Filters.Role)
	assert.Equal(t, "Bash", q.Filters.Tool)
	assert.Equal(t, core.SourceCodex, q.Filters.Source)
	assert.Equal(t, now.Add(-24*time.Hour), q.Filters.Since)

	q, err = run("hello")
	require.NoError(t, err)
	assert.Equal(t, search.ModeExact, q.Mode)
	assert.Equal(t, 20, q.Limit)

	invalid := [][]string{
		{"--semantic", "--hybrid", "x"},
		{"--role", "narrator", "x"},
		{"--source", "gemini", "x"},
		{"--sort", "random", "x"},
		{"--unique-session", "--top-n-per-session", "3", "x"},
		{"--since", "2025-03-05", "--until", "2025-03-01", "x"},
		{"--limit", "-1", "x"},
	}
	for _, args := range invalid {
		_, err := run(args...)
		assert.ErrorIs(t, err, core.ErrQuery, "%v", args)
	}
}

func sampleHits() []core.ScoredHit {
	rec := &core.Record{
		DocID:     core.ID(42),
		SessionID: "s1",
		Source:    core.SourceClaude,
		Role:      core.RoleAssistant,
		Timestamp: 1740823200,
		Project:   "/work/proj",
		Text:      "the parser now handles\nmultiline input",
	}
	return []core.ScoredHit{{DocID: rec.DocID, CombinedScore: 0.75, LexicalScore: 1.5, Record: rec}}
}

func TestRenderer(t *testing.T) {
	t.Run("json lines", func(t *testing.T) {
		var buf bytes.Buffer
		r := &renderer{w: &buf, fields: []string{"score", "doc_id", "ts", "role"}, query: "parser", width: 40}
		require.NoError(t, r.render(sampleHits()))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		obj := gjson.Parse(lines[0])
		assert.Equal(t, 0.75, obj.Get("score").Float())
		assert.Equal(t, "42", obj.Get("doc_id").String())
		assert.Equal(t, int64(1740823200), obj.Get("ts").Int())
		assert.Equal(t, "assistant", obj.Get("role").String())
		assert.False(t, obj.Get("text").Exists())
	})

	t.Run("json array", func(t *testing.T) {
		var buf bytes.Buffer
		r := &renderer{w: &buf, fields: []string{"session_id", "snippet"}, format: formatArray, query: "parser", width: 40}
		require.NoError(t, r.render(sampleHits()))

		arr := gjson.Parse(buf.String())
		require.True(t, arr.IsArray())
		assert.Equal(t, "s1", arr.Get("0.session_id").String())
		assert.Contains(t, arr.Get("0.snippet").String(), "parser")
	})

	t.Run("empty json array", func(t *testing.T) {
		var buf bytes.Buffer
		r := &renderer{w: &buf, fields: defaultSearchFields, format: formatArray}
		require.NoError(t, r.render(nil))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		r := &renderer{w: &buf, fields: []string{"score", "ts", "text"}, format: formatTable, query: "parser", width: 40}
		require.NoError(t, r.render(sampleHits()))

		out := buf.String()
		assert.Contains(t, out, "SCORE")
		assert.Contains(t, out, "0.7500")
		assert.Contains(t, out, "2025-03-01T10:00:00Z")
		assert.Contains(t, out, "the parser now handles multiline input")
	})
}

func claudeLine(session, role, text string) string {
	return fmt.Sprintf(`{"type":%q,"sessionId":%q,"cwd":"/work/proj","timestamp":"2025-03-01T10:00:00Z","message":{"role":%q,"content":%q}}`+"\n",
		role, session, role, text)
}

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	logs := filepath.Join(t.TempDir(), "projects")
	require.NoError(t, os.MkdirAll(filepath.Join(logs, "proj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "proj", "s1.jsonl"), []byte(
		claudeLine("s1", "user", "why does the parser panic")+
			claudeLine("s1", "assistant", "the parser dereferences a nil token")), 0o644))

	conf := fmt.Sprintf("embeddings = false\nlock_timeout = \"1s\"\n\n[[sources]]\npath = \"%s\"\nformat = \"claude\"\n", logs)
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.toml"), []byte(conf), 0o644))
	return root
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(append([]string{"memex"}, args...))
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	root := setupRoot(t)

	out, err := runApp(t, "--root", root, "search", "--no-index", "parser")
	require.NoError(t, err, "an empty index is a warning")
	assert.Empty(t, out)

	_, err = runApp(t, "--root", root, "index")
	require.NoError(t, err)

	out, err = runApp(t, "--root", root, "search", "--no-index", "--fields", "doc_id,session_id,role", "nil", "token")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	hit := gjson.Parse(lines[0])
	assert.Equal(t, "s1", hit.Get("session_id").String())
	assert.Equal(t, "assistant", hit.Get("role").String())
	docID := hit.Get("doc_id").String()

	out, err = runApp(t, "--root", root, "search", "--json-array", "parser")
	require.NoError(t, err)
	assert.Len(t, gjson.Parse(out).Array(), 2)

	out, err = runApp(t, "--root", root, "show", "--fields", "text", docID)
	require.NoError(t, err)
	assert.Equal(t, "the parser dereferences a nil token", gjson.Get(out, "text").String())

	out, err = runApp(t, "--root", root, "session", "--json-array", "s1")
	require.NoError(t, err)
	transcript := gjson.Parse(out).Array()
	require.Len(t, transcript, 2)
	assert.Equal(t, "user", transcript[0].Get("role").String())

	_, err = runApp(t, "--root", root, "search", "--semantic", "parser")
	assert.Equal(t, exitQuery, exitCode(err))

	_, err = runApp(t, "--root", root, "show", "12345")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = runApp(t, "--root", root, "reembed")
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCommands_SearchWhileWriterHoldsLock(t *testing.T) {
	root := setupRoot(t)
	_, err := runApp(t, "--root", root, "index")
	require.NoError(t, err)

	lock, err := indexer.AcquireLock(context.Background(), root, time.Second)
	require.NoError(t, err)
	defer lock.Release()

	out, err := runApp(t, "--root", root, "search", "--json-array", "parser")
	require.NoError(t, err, "a held writer lock falls back to the committed generation")
	assert.Len(t, gjson.Parse(out).Array(), 2)

	out, err = runApp(t, "--root", root, "session", "--json-array", "s1")
	require.NoError(t, err)
	assert.Len(t, gjson.Parse(out).Array(), 2)
}

func TestCommands_BadConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.toml"), []byte("colour = \"blue\"\n"), 0o644))

	_, err := runApp(t, "--root", root, "search", "x")
	assert.Equal(t, exitConfig, exitCode(err))
}
