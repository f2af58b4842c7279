package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/memex"
	"github.com/poiesic/memex/config"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/indexer"
	"github.com/poiesic/memex/search"
	"github.com/urfave/cli/v2"
)

func loadConfig(c *cli.Context, opts ...config.Option) (*config.Config, error) {
	root, err := config.ResolveRoot(c.String("root"))
	if err != nil {
		return nil, err
	}
	return config.Load(root, opts...)
}

func indexCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []config.Option
	if c.Bool("no-embeddings") {
		opts = append(opts, config.WithEmbeddings(false))
	}
	cfg, err := loadConfig(c, opts...)
	if err != nil {
		return err
	}

	if c.Bool("watch") {
		roots, err := memex.SourceRoots(cfg)
		if err != nil {
			return err
		}
		// The index is only held open for the duration of each sync.
		return indexer.Watch(ctx, roots, indexer.DefaultDebounce, slog.Default(), func(ctx context.Context) error {
			return syncOnce(ctx, cfg)
		})
	}
	return syncOnce(ctx, cfg)
}

func syncOnce(ctx context.Context, cfg *config.Config) error {
	m, err := memex.OpenWriter(ctx, cfg, memex.WithProgress(os.Stderr))
	if err != nil {
		return err
	}
	defer m.Close()

	gen, stats, err := m.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "generation %d: %d files scanned, %d added, %d appended, %d reingested, %d removed, %d failed; %d records\n",
		gen, stats.FilesScanned, stats.FilesAdded, stats.FilesAppended, stats.FilesReingested,
		stats.FilesRemoved, stats.FilesFailed, stats.RecordsParsed)
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := c.Context
	q, err := buildQuery(c, time.Now())
	if err != nil {
		return err
	}
	r, err := newRenderer(c, defaultSearchFields)
	if err != nil {
		return err
	}
	r.query = q.Text

	var opts []config.Option
	if c.Bool("no-index") {
		opts = append(opts, config.WithAutoIndex(false))
	}
	cfg, err := loadConfig(c, opts...)
	if err != nil {
		return err
	}
	m, err := openForSearch(ctx, cfg)
	if errors.Is(err, core.ErrNotIndexed) {
		slog.Warn("nothing indexed yet; run `memex index`", "root", cfg.Root)
		return r.render(nil)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	var monitor search.SearchMonitor
	if c.Bool("verbose") {
		monitor = search.NewLogMonitor(slog.Default())
	}
	hits, err := m.Search(ctx, q, monitor)
	if err != nil {
		return err
	}
	return r.render(hits)
}

// openForSearch syncs the index first when auto indexing is on, then
// opens it for reading. The writer is closed before the query runs. A sync
// that runs out of time, or a writer lock held elsewhere, leaves the last
// committed generation in place.
func openForSearch(ctx context.Context, cfg *config.Config) (*memex.Memex, error) {
	if cfg.AutoIndexOnSearch {
		if err := syncBeforeSearch(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return memex.OpenReader(cfg)
}

func syncBeforeSearch(ctx context.Context, cfg *config.Config) error {
	syncCtx, cancel := context.WithTimeout(ctx, cfg.SyncTimeout.Duration)
	defer cancel()

	m, err := memex.OpenWriter(syncCtx, cfg)
	if errors.Is(err, core.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("index is being written elsewhere; searching the last committed generation", "root", cfg.Root)
		return nil
	}
	if err != nil {
		return err
	}
	defer m.Close()

	if _, _, err := m.Sync(syncCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		slog.Warn("index sync timed out; searching the last committed generation", "timeout", cfg.SyncTimeout.Duration)
	}
	return nil
}

func buildQuery(c *cli.Context, now time.Time) (search.Query, error) {
	q := search.Query{
		Text:           strings.TrimSpace(strings.Join(c.Args().Slice(), " ")),
		Limit:          c.Int("limit"),
		TopNPerSession: c.Int("top-n-per-session"),
		UniqueSession:  c.Bool("unique-session"),
	}

	switch {
	case c.Bool("semantic") && c.Bool("hybrid"):
		return q, fmt.Errorf("%w: --semantic and --hybrid are mutually exclusive", core.ErrQuery)
	case c.Bool("semantic"):
		q.Mode = search.ModeSemantic
	case c.Bool("hybrid"):
		q.Mode = search.ModeHybrid
	}

	if s := c.String("sort"); s != "" {
		sort, err := search.ParseSort(s)
		if err != nil {
			return q, err
		}
		q.Sort = sort
	}

	f := &q.Filters
	f.Project = c.String("project")
	f.Tool = c.String("tool")
	f.SessionID = c.String("session")
	f.MinScore = c.Float64("min-score")
	if s := c.String("role"); s != "" {
		role, err := core.ParseRole(s)
		if err != nil {
			return q, fmt.Errorf("%w: %w", core.ErrQuery, err)
		}
		f.Role = role
	}
	if s := c.String("source"); s != "" {
		source, err := core.ParseSource(s)
		if err != nil {
			return q, fmt.Errorf("%w: %w", core.ErrQuery, err)
		}
		f.Source = source
	}
	var err error
	if f.Since, err = parseTime(c.String("since"), now); err != nil {
		return q, err
	}
	if f.Until, err = parseTime(c.String("until"), now); err != nil {
		return q, err
	}

	return q, q.Validate()
}

// parseTime accepts RFC 3339, a bare date, or a duration counted back
// from now.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse time %q", core.ErrQuery, s)
}

func newRenderer(c *cli.Context, defaults []string) (*renderer, error) {
	fields, err := parseFields(c.String("fields"), defaults)
	if err != nil {
		return nil, err
	}
	r := &renderer{w: c.App.Writer, fields: fields, width: search.DefaultSnippetWidth}
	switch {
	case c.Bool("json-array") && c.Bool("verbose"):
		return nil, fmt.Errorf("%w: --json-array and -v are mutually exclusive", core.ErrQuery)
	case c.Bool("json-array"):
		r.format = formatArray
	case c.Bool("verbose"):
		r.format = formatTable
	}
	return r, nil
}

func sessionCommand(c *cli.Context) error {
	session := strings.TrimSpace(c.Args().First())
	if session == "" {
		return fmt.Errorf("%w: session id required", core.ErrQuery)
	}
	r, err := newRenderer(c, defaultRecordFields)
	if err != nil {
		return err
	}
	m, err := openReader(c)
	if err != nil {
		return err
	}
	defer m.Close()

	records, err := m.Transcript(c.Context, session)
	if err != nil {
		return err
	}
	return r.render(recordHits(records))
}

func showCommand(c *cli.Context) error {
	id, err := core.ParseID(c.Args().First())
	if err != nil {
		return err
	}
	r, err := newRenderer(c, defaultRecordFields)
	if err != nil {
		return err
	}
	m, err := openReader(c)
	if err != nil {
		return err
	}
	defer m.Close()

	rec, err := m.Get(c.Context, id)
	if err != nil {
		return err
	}
	return r.render(recordHits([]*core.Record{rec}))
}

func openReader(c *cli.Context) (*memex.Memex, error) {
	cfg, err := loadConfig(c, config.WithEmbeddings(false))
	if err != nil {
		return nil, err
	}
	return memex.OpenReader(cfg)
}

func reembedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m, err := memex.OpenWriter(ctx, cfg, memex.WithProgress(os.Stderr))
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Fprintf(os.Stderr, "Index: %s\n", cfg.IndexPath())
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	stats, err := m.Reembed(ctx)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "generation %d: %d records embedded\n", stats.Generation, stats.Embedded)
	return nil
}
