// Package indexer keeps the memex index in step with the log files on disk.
//
// Each Sync lists the *.jsonl files under the configured source roots and
// compares them with the manifest stored in the index. Unchanged files
// (same size and mtime) are not read. A file that grew and whose indexed
// prefix still hashes the same is read from its watermark; any other
// change re-reads the whole file and replaces its earlier records. Files
// that vanished are removed.
//
// Files are parsed on an ants worker pool. Records are embedded in
// batches, degrading to lexical-only when the embedding service fails,
// and written with their manifest entries in a single commit. A commit
// too large for one transaction is split into several generations.
//
// Writers in different processes are serialized with AcquireLock; Watch
// re-runs a sync after each burst of file changes.
package indexer
