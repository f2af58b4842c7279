package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/ingest"
	"github.com/poiesic/memex/storage"
)

// parsed is the outcome of reading one unit.
type parsed struct {
	unit    *unit
	update  *storage.FileUpdate
	skipped int
	err     error
}

// prefixHash hashes the first n bytes of r.
func prefixHash(r io.ReaderAt, n int64) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, n)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// parseUnit reads the new content of one file. Appends resume at the
// stored watermark when the indexed prefix is intact; anything else is
// read from the start and replaces the file's earlier records.
func parseUnit(ctx context.Context, parser ingest.Parser, u *unit) parsed {
	if u.mode == modeRemove {
		return parsed{unit: u, update: &storage.FileUpdate{Path: u.path}}
	}

	f, err := os.Open(u.path)
	if err != nil {
		return parsed{unit: u, err: err}
	}
	defer f.Close()

	// Only read what was there when the file was listed.
	r := io.NewSectionReader(f, 0, u.size)

	start := int64(0)
	state := core.ParserState{}
	if u.mode == modeAppend {
		intact := false
		if u.prior.Offset <= u.size {
			sum, err := prefixHash(r, u.prior.Offset)
			if err != nil {
				return parsed{unit: u, err: err}
			}
			intact = bytes.Equal(sum, u.prior.PrefixHash)
		}
		if intact {
			start = u.prior.Offset
			state = u.prior.State
		} else {
			u.mode = modeReingest
		}
	}

	var records []*core.Record
	result, err := parser.Parse(ctx, u.path, r, start, state, func(rec *core.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return parsed{unit: u, err: fmt.Errorf("parsing %s: %w", u.path, err)}
	}

	sum, err := prefixHash(r, result.Offset)
	if err != nil {
		return parsed{unit: u, err: err}
	}

	var count int64
	if u.mode == modeAppend {
		count = u.prior.Records
	}
	count += int64(len(records))

	return parsed{
		unit:    u,
		skipped: result.Skipped,
		update: &storage.FileUpdate{
			Path:    u.path,
			Replace: u.mode == modeReingest,
			Records: records,
			Entry: &core.ManifestEntry{
				Path:       u.path,
				Source:     u.source,
				Size:       u.size,
				ModTime:    u.mtime,
				PrefixHash: sum,
				Offset:     result.Offset,
				Records:    count,
				State:      result.State,
			},
		},
	}
}

// splitUpdate cuts a file update in two at a line boundary so each half
// fits in its own commit. The first half gets a manifest entry whose
// watermark is the start of the second half's first line, and the parser
// state reached at that line.
func splitUpdate(ctx context.Context, parser ingest.Parser, r io.ReaderAt, u *storage.FileUpdate) (*storage.FileUpdate, *storage.FileUpdate, error) {
	mid := len(u.Records) / 2
	// Keep the blocks of one line together.
	for mid > 0 && u.Records[mid].RawOffset == u.Records[mid-1].RawOffset {
		mid--
	}
	if mid == 0 {
		mid = len(u.Records) / 2
		for mid < len(u.Records) && u.Records[mid].RawOffset == u.Records[mid-1].RawOffset {
			mid++
		}
	}
	if mid == 0 || mid == len(u.Records) {
		return nil, nil, fmt.Errorf("cannot split %s further", u.Path)
	}

	cut := u.Records[mid].RawOffset
	sum, err := prefixHash(r, cut)
	if err != nil {
		return nil, nil, err
	}
	state, err := stateAt(ctx, parser, u.Path, r, cut)
	if err != nil {
		return nil, nil, err
	}

	// Size -1 never matches a file, so a sync after a lost tail commit
	// resumes from the cut.
	entry := &core.ManifestEntry{
		Path:       u.Path,
		Source:     u.Entry.Source,
		Size:       -1,
		ModTime:    u.Entry.ModTime,
		PrefixHash: sum,
		Offset:     cut,
		Records:    u.Entry.Records - int64(len(u.Records)-mid),
		State:      state,
	}
	head := &storage.FileUpdate{
		Path:    u.Path,
		Replace: u.Replace,
		Records: u.Records[:mid],
		Vectors: pickVectors(u.Vectors, u.Records[:mid]),
		Entry:   entry,
	}
	tail := &storage.FileUpdate{
		Path:    u.Path,
		Records: u.Records[mid:],
		Vectors: pickVectors(u.Vectors, u.Records[mid:]),
		Entry:   u.Entry,
	}
	return head, tail, nil
}

// stateAt replays the first n bytes of a file to recover the parser state
// at that offset.
func stateAt(ctx context.Context, parser ingest.Parser, path string, r io.ReaderAt, n int64) (core.ParserState, error) {
	result, err := parser.Parse(ctx, path, io.NewSectionReader(r, 0, n), 0, core.ParserState{}, func(*core.Record) error {
		return nil
	})
	if err != nil {
		return core.ParserState{}, fmt.Errorf("replaying %s: %w", path, err)
	}
	return result.State, nil
}

func pickVectors(all map[core.ID][]float32, records []*core.Record) map[core.ID][]float32 {
	if len(all) == 0 {
		return nil
	}
	out := make(map[core.ID][]float32)
	for _, r := range records {
		if v, ok := all[r.DocID]; ok {
			out[r.DocID] = v
		}
	}
	return out
}
