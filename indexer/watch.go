package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the log directories must stay quiet before
// a watch triggers a sync.
const DefaultDebounce = 2 * time.Second

// Watch calls sync once, then again after every burst of changes to log
// files under the roots, until ctx ends. Sync errors are logged and
// watching continues.
func Watch(ctx context.Context, roots []SourceRoot, debounce time.Duration, logger *slog.Logger, sync func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watch")
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	ws := &watchSet{w: w, pending: make(map[string]bool), logger: logger}
	for _, root := range roots {
		ws.roots = append(ws.roots, filepath.Clean(root.Path))
	}
	for _, root := range ws.roots {
		ws.addRoot(root)
	}

	run := func() {
		if err := sync(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sync failed", "err", err)
		}
	}
	run()

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			relevant := strings.HasSuffix(event.Name, ".jsonl") && ws.underRoot(event.Name)
			if event.Has(fsnotify.Create) && ws.created(event.Name) {
				relevant = true
			}
			if !relevant {
				continue
			}
			logger.Debug("change", "path", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "err", err)

		case <-fire:
			run()
		}
	}
}

// watchSet tracks the watched directories of a set of source roots.
// A root that does not exist yet is waited for by watching its nearest
// existing ancestor.
type watchSet struct {
	w       *fsnotify.Watcher
	roots   []string
	pending map[string]bool
	logger  *slog.Logger
}

func (s *watchSet) addRoot(root string) {
	for {
		if isDir(root) {
			delete(s.pending, root)
			s.addTree(root)
			return
		}
		parent := nearestDir(root)
		if !s.pending[root] {
			s.logger.Info("source directory missing, waiting for it", "root", root, "watching", parent)
		}
		s.pending[root] = true
		if err := s.w.Add(parent); err != nil {
			s.logger.Warn("cannot watch directory", "path", parent, "err", err)
			return
		}
		// Directories created while the watch was being added raise no event.
		if nearestDir(root) == parent && !isDir(root) {
			return
		}
	}
}

// created handles a newly created path and reports whether it concerns
// a root.
func (s *watchSet) created(path string) bool {
	hit := false
	for root := range s.pending {
		if within(root, path) {
			s.addRoot(root)
			hit = true
		}
	}
	if s.underRoot(path) {
		// New project directories need watching too.
		s.addTree(path)
		hit = true
	}
	return hit
}

func (s *watchSet) underRoot(path string) bool {
	for _, root := range s.roots {
		if within(path, root) {
			return true
		}
	}
	return false
}

// addTree watches dir and every directory below it. Paths that are not
// directories are ignored.
func (s *watchSet) addTree(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return err
			}
			s.logger.Warn("cannot read directory", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.w.Add(path); err != nil {
			s.logger.Warn("cannot watch directory", "path", path, "err", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("directory vanished before it was watched", "path", dir)
	case err != nil:
		s.logger.Warn("cannot watch tree", "path", dir, "err", err)
	}
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// nearestDir returns the closest existing ancestor directory of path.
func nearestDir(path string) string {
	for {
		parent := filepath.Dir(path)
		if parent == path || isDir(parent) {
			return parent
		}
		path = parent
	}
}
