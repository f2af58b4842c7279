// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for an indexed record.
// It is derived from content coordinates, never from a database sequence.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// DocID derives the identifier of a record from where it was read.
// Re-parsing the same bytes always yields the same ID.
func DocID(source Source, path, sessionID string, offset int64, part int) ID {
	var b strings.Builder
	b.WriteString(source.String())
	b.WriteByte(0)
	b.WriteString(path)
	b.WriteByte(0)
	b.WriteString(sessionID)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(offset, 10))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(part))
	return IDFromContent(b.String())
}

// String renders the ID the way the CLI prints and accepts it.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses an ID printed by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid doc id %q", ErrQuery, s)
	}
	return ID(v), nil
}

// Source identifies the log format a record was read from.
type Source int

const (
	// SourceClaude is source A: Claude Code session transcripts.
	SourceClaude Source = iota + 1
	// SourceCodex is source B: Codex CLI rollout files.
	SourceCodex
)

func (s Source) String() string {
	switch s {
	case SourceClaude:
		return "claude"
	case SourceCodex:
		return "codex"
	default:
		return "unknown"
	}
}

// ParseSource maps a format tag to a Source.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "a":
		return SourceClaude, nil
	case "codex", "b":
		return SourceCodex, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSource, s)
	}
}

// Role identifies who produced a record.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAssistant
	RoleToolUse
	RoleToolResult
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleToolUse:
		return "tool_use"
	case RoleToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "tool_use":
		return RoleToolUse, nil
	case "tool_result":
		return RoleToolResult, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Record is one log event normalized from either source format.
type Record struct {
	DocID     ID
	SessionID string
	Source    Source
	Role      Role
	Timestamp int64  // Seconds since the Unix epoch
	Project   string // Working directory of the session, if known
	Tool      string // Tool name for tool_use and tool_result records
	Text      string // Body used for scoring
	Path      string // Source file the record was read from
	RawOffset int64  // Byte offset of the originating line
	Part      int    // Block index within the originating line
}

// Time returns the record timestamp as a time.Time in UTC.
func (r *Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// ParserState is what a parser needs to resume in the middle of a file.
// Codex rollouts only carry the session id and cwd in their first line.
type ParserState struct {
	SessionID string
	Project   string

	// PendingCalls holds tool calls still waiting for their result,
	// oldest first.
	PendingCalls []ToolCall
}

// ToolCall names the tool behind a call id.
type ToolCall struct {
	ID   string
	Name string
}

// MaxPendingCalls bounds the unresolved tool calls carried between syncs.
const MaxPendingCalls = 32

// Clone returns a copy that shares no memory with s.
func (s ParserState) Clone() ParserState {
	s.PendingCalls = slices.Clone(s.PendingCalls)
	return s
}

// AddCall remembers a tool call until its result shows up. The oldest
// call is forgotten once MaxPendingCalls are pending.
func (s *ParserState) AddCall(id, name string) {
	if id == "" {
		return
	}
	s.PendingCalls = slices.DeleteFunc(s.PendingCalls, func(c ToolCall) bool { return c.ID == id })
	if len(s.PendingCalls) >= MaxPendingCalls {
		s.PendingCalls = slices.Delete(s.PendingCalls, 0, len(s.PendingCalls)-MaxPendingCalls+1)
	}
	s.PendingCalls = append(s.PendingCalls, ToolCall{ID: id, Name: name})
}

// ResolveCall returns the tool name of a pending call and forgets the
// call. Unknown ids resolve to "".
func (s *ParserState) ResolveCall(id string) string {
	i := slices.IndexFunc(s.PendingCalls, func(c ToolCall) bool { return c.ID == id })
	if i < 0 {
		return ""
	}
	name := s.PendingCalls[i].Name
	s.PendingCalls = slices.Delete(s.PendingCalls, i, i+1)
	if len(s.PendingCalls) == 0 {
		s.PendingCalls = nil
	}
	return name
}

// ManifestEntry records what has been indexed from one source file.
type ManifestEntry struct {
	Path       string
	Source     Source
	Size       int64
	ModTime    int64  // Unix nanoseconds
	PrefixHash []byte // BLAKE2b-256 of bytes [0, Offset)
	Offset     int64  // Watermark: first byte not yet consumed
	Generation uint64 // Generation that last advanced this entry
	Records    int64  // Records contributed by this file
	State      ParserState
}

// Generation identifies an immutable committed snapshot of the index.
type Generation uint64

// ScoredHit is a ranked query result. It is never persisted.
type ScoredHit struct {
	DocID         ID
	LexicalScore  float64
	SemanticScore float64
	CombinedScore float64
	Record        *Record
}
