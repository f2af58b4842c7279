package main

import (
	"bufio"
	"context"
	"flag"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/memex"
	"github.com/poiesic/memex/config"
)

var prompts = []string{
	"Why does the parser panic on an empty input file?",
	"Refactor the retry loop so it honours context cancellation.",
	"Add a table-driven test for the config loader.",
	"The build fails with undefined: parseConfig, can you fix it?",
	"How do I rotate the signing keys without downtime?",
	"Explain what the badger value log garbage collection does.",
	"Write a migration that adds an index on invoices.customer_id.",
	"Our p99 latency doubled after the last deploy, where should I look?",
	"Convert this callback API to use channels.",
	"Why is the race detector complaining about the cache map?",
	"Bump the Go version to 1.25 and fix the vet warnings.",
	"Add structured logging to the HTTP handlers.",
	"The Docker image is 1.2GB, make it smaller.",
	"Set up a GitHub Actions workflow that runs staticcheck.",
	"Rename the Widget type to Component across the repo.",
	"What does this regex actually match?",
	"Split the monolithic main.go into packages.",
	"Implement pagination for the list invoices endpoint.",
	"The websocket reconnect loop spins at 100% CPU.",
	"Document the public API of the storage package.",
	"Why are the Terraform plans showing drift on the load balancer?",
	"Add a --dry-run flag to the deploy command.",
	"Find where we leak goroutines in the worker pool.",
	"Make the embedding batch size configurable.",
	"The flaky TestWatch keeps timing out in CI.",
	"Port the bash deploy script to a Makefile target.",
	"Cache the tokenizer output between requests.",
	"Why does the JSON decoder drop unknown fields silently?",
	"Write a benchmark for the cosine similarity loop.",
	"Migrate the frontend from webpack to vite.",
}

var replies = []string{
	"I'll start by reading the relevant files.",
	"The nil pointer comes from the token slice being empty; I added a guard.",
	"Running the tests to confirm the fix.",
	"The retry loop now selects on ctx.Done() between attempts.",
	"I found the culprit: the cache map is written without holding the mutex.",
	"The image now uses a distroless base and weighs 38MB.",
	"Renamed in 14 files; the build and tests pass.",
	"The workflow runs staticcheck and go test -race on every push.",
	"Pagination uses an opaque cursor built from the last invoice id.",
	"The reconnect loop lacked a backoff; it now waits up to 30 seconds.",
	"Goroutines leaked because results were sent on an unbuffered channel nobody read.",
	"The benchmark shows 1.8ns per dimension on this machine.",
}

var (
	seedFileName = flag.String("src", "", "file of prompts, one per line")
	outDir       = flag.String("out", "./synthetic-logs", "directory to write logs into")
	sessions     = flag.Int("sessions", 20, "number of sessions per format")
	turns        = flag.Int("turns", 5, "prompts per session")
	seed         = flag.Uint64("seed", 1, "random seed")
	indexRoot    = flag.String("index", "", "memex root to index the generated logs into")
)

// linesFromFile returns an iterator over lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && !yield(line) {
				return
			}
		}
	}, nil
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()

	lines := prompts
	if *seedFileName != "" {
		source, err := linesFromFile(*seedFileName)
		if err != nil {
			panic(err)
		}
		lines = slices.Collect(source)
	}

	g := newGenerator(*outDir, *seed, *turns)
	for range *sessions {
		path, err := g.claudeSession(g.draw(lines))
		if err != nil {
			panic(err)
		}
		slog.Debug("wrote session", "path", path)
		if path, err = g.codexSession(g.draw(lines)); err != nil {
			panic(err)
		}
		slog.Debug("wrote session", "path", path)
	}
	slog.Info("generated logs", "dir", *outDir, "sessions", 2**sessions)

	if *indexRoot != "" {
		if err := index(context.Background(), *indexRoot, *outDir); err != nil {
			panic(err)
		}
	}
}

// index syncs the generated logs into a memex root without embeddings.
func index(ctx context.Context, root, out string) error {
	cfg, err := config.Load(root,
		config.WithEmbeddings(false),
		config.WithSources(
			config.Source{Path: filepath.Join(out, "claude"), Format: "claude"},
			config.Source{Path: filepath.Join(out, "codex"), Format: "codex"},
		))
	if err != nil {
		return err
	}
	m, err := memex.OpenWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	gen, stats, err := m.Sync(ctx)
	if err != nil {
		return err
	}
	slog.Info("indexed", "generation", gen, "files", stats.FilesAdded, "records", stats.RecordsParsed)
	return nil
}
