package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/poiesic/memex/core"
)

// SourceRoot is a directory of logs in one format.
type SourceRoot struct {
	Path   string
	Source core.Source
}

// mode says how a changed file is brought up to date.
type mode int

const (
	modeAdd mode = iota + 1
	modeAppend
	modeReingest
	modeRemove
)

func (m mode) String() string {
	switch m {
	case modeAdd:
		return "add"
	case modeAppend:
		return "append"
	case modeReingest:
		return "reingest"
	case modeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// unit is the pending work for one file.
type unit struct {
	path   string
	source core.Source
	size   int64
	mtime  int64
	prior  *core.ManifestEntry
	mode   mode
}

// discover lists every *.jsonl file under the roots, sorted by path. A
// file reachable from two roots belongs to the first.
func discover(ctx context.Context, roots []SourceRoot) ([]*unit, error) {
	seen := make(map[string]bool)
	var units []*unit
	for _, root := range roots {
		err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root.Path && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				// Unreadable subtrees are left alone.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil
			}
			if seen[abs] {
				return nil
			}
			info, err := d.Info()
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			seen[abs] = true
			units = append(units, &unit{
				path:   abs,
				source: root.Source,
				size:   info.Size(),
				mtime:  info.ModTime().UnixNano(),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].path < units[j].path })
	return units, nil
}

// plan compares discovered files with the manifest. It returns the units
// that need work, including removals, and the number of unchanged files.
func plan(found []*unit, manifest map[string]*core.ManifestEntry) (work []*unit, unchanged int) {
	present := make(map[string]bool, len(found))
	for _, u := range found {
		present[u.path] = true
		prior, ok := manifest[u.path]
		switch {
		case !ok:
			u.mode = modeAdd
		case prior.Source != u.source:
			u.prior = prior
			u.mode = modeReingest
		case prior.Size == u.size && prior.ModTime == u.mtime:
			unchanged++
			continue
		default:
			// Append or reingest is settled once the prefix is hashed.
			u.prior = prior
			u.mode = modeAppend
		}
		work = append(work, u)
	}

	var gone []string
	for path := range manifest {
		if present[path] {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, path)
		}
	}
	sort.Strings(gone)
	for _, path := range gone {
		work = append(work, &unit{path: path, prior: manifest[path], mode: modeRemove})
	}
	return work, unchanged
}
