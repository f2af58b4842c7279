package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/poiesic/memex/core"
)

// MaxTextBytes caps the text kept for a single record.
const MaxTextBytes = 64 << 10

// Result describes one Parse call.
type Result struct {
	// Offset is the first byte not consumed. A trailing line without a
	// newline is left for the next call.
	Offset int64

	// Records counts emitted records.
	Records int

	// Skipped counts malformed or unrecognized lines.
	Skipped int

	// State carries session context forward to the next call on the same file.
	State core.ParserState
}

// Parser turns the lines of one log format into Records.
type Parser interface {
	// Source identifies the log format handled by the parser.
	Source() core.Source

	// Parse reads complete lines of the file at path starting at byte
	// start and calls emit for every record, in file order.
	Parse(ctx context.Context, path string, r io.ReaderAt, start int64, state core.ParserState, emit func(*core.Record) error) (Result, error)
}

// Option configures a parser.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ForSource returns the parser for a log format.
func ForSource(source core.Source, opts ...Option) (Parser, error) {
	switch source {
	case core.SourceClaude:
		return NewClaudeParser(opts...), nil
	case core.SourceCodex:
		return NewCodexParser(opts...), nil
	default:
		return nil, fmt.Errorf("%w: value %d", core.ErrInvalidSource, source)
	}
}

// lineFunc handles one complete line. offset is the byte position of the
// line start; line excludes the newline.
type lineFunc func(offset int64, line []byte) error

// scanLines calls fn for every newline-terminated line from start and
// returns the offset just past the last complete line.
func scanLines(ctx context.Context, r io.ReaderAt, start int64, fn lineFunc) (int64, error) {
	br := bufio.NewReaderSize(io.NewSectionReader(r, start, math.MaxInt64-start), 64<<10)
	offset := start
	for n := 0; ; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return offset, err
			}
		}

		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Partial line; leave it for the next sync.
			return offset, nil
		}
		if err != nil {
			return offset, err
		}

		body := bytes.TrimRight(line[:len(line)-1], "\r")
		if len(bytes.TrimSpace(body)) > 0 {
			if err := fn(offset, body); err != nil {
				return offset, err
			}
		}
		offset += int64(len(line))
	}
}

// parseTimestamp reads an RFC 3339 timestamp as Unix seconds, 0 when absent or invalid.
func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// sessionFromPath derives a session id from a file name, used when a
// file never states one.
func sessionFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	// Codex rollouts end in a 36 character UUID.
	if len(stem) > 36 && strings.HasPrefix(stem, "rollout-") {
		return stem[len(stem)-36:]
	}
	return stem
}

// clip trims text to MaxTextBytes on a rune boundary.
func clip(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= MaxTextBytes {
		return text
	}
	cut := MaxTextBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// emitter builds records for one Parse call and counts them.
type emitter struct {
	source core.Source
	path   string
	emit   func(*core.Record) error
	result *Result
}

func (e *emitter) record(offset int64, part int, role core.Role, ts int64, tool, text string) error {
	text = clip(text)
	if text == "" {
		return nil
	}
	session := e.result.State.SessionID
	if session == "" {
		session = sessionFromPath(e.path)
	}
	r := &core.Record{
		DocID:     core.DocID(e.source, e.path, session, offset, part),
		SessionID: session,
		Source:    e.source,
		Role:      role,
		Timestamp: ts,
		Project:   e.result.State.Project,
		Tool:      tool,
		Text:      text,
		Path:      e.path,
		RawOffset: offset,
		Part:      part,
	}
	if err := e.emit(r); err != nil {
		return err
	}
	e.result.Records++
	return nil
}
