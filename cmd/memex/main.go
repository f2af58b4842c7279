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

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/memex/config"
	"github.com/poiesic/memex/core"
	"github.com/urfave/cli/v2"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitConfig     = 2
	exitCorruption = 3
	exitQuery      = 4
	exitBusy       = 5
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "memex: %v\n", err)
		if errors.Is(err, core.ErrIndexCorruption) {
			fmt.Fprintln(os.Stderr, "memex: delete the index directory and run `memex index` to rebuild it")
		}
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "memex",
		Usage: "Search your AI assistant conversation logs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory holding config.toml and the index (default $" + config.EnvRoot + " or ~/.memex)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Bring the index up to date with the configured log sources",
				Action: indexCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-embeddings",
						Usage: "Skip embedding generation for this run",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and re-index when logs change",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search indexed records",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags:     searchFlags(),
			},
			{
				Name:      "session",
				Usage:     "Print the transcript of a session",
				ArgsUsage: "<session_id>",
				Action:    sessionCommand,
				Flags:     outputFlags(),
			},
			{
				Name:      "show",
				Usage:     "Print a single record",
				ArgsUsage: "<doc_id>",
				Action:    showCommand,
				Flags:     outputFlags(),
			},
			{
				Name:   "reembed",
				Usage:  "Regenerate every stored embedding",
				Action: reembedCommand,
			},
		},
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "fields",
			Usage: "Comma separated output fields (" + strings.Join(knownFields, ", ") + ")",
		},
		&cli.BoolFlag{
			Name:  "json-array",
			Usage: "Print one JSON array instead of JSON lines",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Print an aligned table",
		},
	}
}

func searchFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.BoolFlag{Name: "semantic", Usage: "Rank by embedding similarity only"},
		&cli.BoolFlag{Name: "hybrid", Usage: "Rank by lexical and embedding scores combined"},
		&cli.StringFlag{Name: "project", Usage: "Only records from this project path"},
		&cli.StringFlag{Name: "role", Usage: "Only records with this role (user, assistant, tool_use, tool_result)"},
		&cli.StringFlag{Name: "tool", Usage: "Only records of this tool"},
		&cli.StringFlag{Name: "session", Usage: "Only records of this session"},
		&cli.StringFlag{Name: "source", Usage: "Only records of this log format (claude, codex)"},
		&cli.StringFlag{Name: "since", Usage: "Only records at or after this time (RFC 3339, YYYY-MM-DD or a duration such as 72h)"},
		&cli.StringFlag{Name: "until", Usage: "Only records at or before this time"},
		&cli.IntFlag{Name: "limit", Usage: "Maximum number of hits, 0 for all", Value: 20},
		&cli.Float64Flag{Name: "min-score", Usage: "Drop hits scoring below this value"},
		&cli.StringFlag{Name: "sort", Usage: "Order hits by score or ts"},
		&cli.IntFlag{Name: "top-n-per-session", Usage: "Keep the N best hits of each session"},
		&cli.BoolFlag{Name: "unique-session", Usage: "Keep the best hit of each session"},
		&cli.BoolFlag{Name: "no-index", Usage: "Search without syncing the index first"},
	}
	return append(flags, outputFlags()...)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, core.ErrConfig):
		return exitConfig
	case errors.Is(err, core.ErrIndexCorruption):
		return exitCorruption
	case errors.Is(err, core.ErrQuery):
		return exitQuery
	case errors.Is(err, core.ErrLockTimeout), errors.Is(err, core.ErrIndexBusy):
		return exitBusy
	default:
		return exitFailure
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("%w: invalid log level %q: must be one of debug, info, warn, error", core.ErrConfig, levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
