// Package memex is a local search engine over AI-assistant conversation
// logs.
//
// OpenWriter takes the writer lock and opens the index so Sync can bring
// it up to date with the Claude Code and Codex logs named in the config.
// OpenReader opens it read-only for Search, Transcript and Get. Every
// query reads one pinned generation of the index.
package memex
