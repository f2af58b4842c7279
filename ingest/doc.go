// Package ingest parses AI-assistant conversation logs into Records.
//
// Two formats are supported, each with its own Parser: Claude Code
// session transcripts and Codex CLI rollouts. Parsers read complete
// newline-terminated lines from a byte offset so a growing file can be
// ingested incrementally; a line still being written is left for the
// next call. Malformed lines are logged and skipped.
//
// Parsing is deterministic. A record's doc id is derived from the
// source, file path, session, line offset and block index, so parsing
// the same bytes twice yields the same records.
package ingest
