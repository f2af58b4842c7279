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

package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// Config holds configuration for a reembedding run.
type Config struct {
	// BatchSize is the number of records committed per generation
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      256,
		ReportInterval: 256,
	}
}

// Stats summarizes a reembedding run.
type Stats struct {
	Embedded   int
	Failed     int
	Generation core.Generation
}

// Reembedder writes vectors for records that already exist in the index.
type Reembedder struct {
	store     storage.Store
	generator *Generator
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr); nil for none
func NewReembedder(store storage.Store, generator *Generator, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if generator == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reembedder{
		store:     store,
		generator: generator,
		config:    config,
		progress:  progress,
		logger:    logger.With("component", "reembed"),
	}, nil
}

// Run regenerates the vector of every record. A batch that cannot be
// embedded aborts the run; already committed batches stay.
func (r *Reembedder) Run(ctx context.Context) (Stats, error) {
	return r.run(ctx, false)
}

// Backfill embeds records marked as missing a vector. Failed batches are
// skipped and stay marked for a later attempt.
func (r *Reembedder) Backfill(ctx context.Context) (Stats, error) {
	return r.run(ctx, true)
}

func (r *Reembedder) run(ctx context.Context, missingOnly bool) (Stats, error) {
	var stats Stats

	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return stats, err
	}
	stats.Generation = snap.Generation()

	var ids []core.ID
	if missingOnly {
		ids, err = snap.MissingVectors(ctx, 0)
	} else {
		ids, err = AllIDs(ctx, snap)
	}
	snap.Close()
	if err != nil {
		return stats, err
	}
	if len(ids) == 0 {
		return stats, nil
	}

	if r.progress != nil {
		fmt.Fprintf(r.progress, "Embedding %d records (batch size: %d)\n", len(ids), r.config.BatchSize)
	}
	tracker := NewProgressTracker(r.progress, len(ids), r.config.ReportInterval)
	tracker.Start()

	err = NewRecordIterator(r.store, ids, r.config.BatchSize).ForEach(ctx, func(records []*core.Record) error {
		items := make([]Item, len(records))
		for i, record := range records {
			items[i] = Item{ID: record.DocID, Text: record.Text}
		}

		result, err := r.generator.Embed(ctx, items)
		if err != nil {
			return err
		}
		stats.Failed += result.Failed
		if result.Failed > 0 && !missingOnly {
			return fmt.Errorf("embedding batch failed: %w", result.Err)
		}
		if len(result.Vectors) == 0 {
			// Nothing came back; the service is likely down, so stop early.
			return errStopBackfill
		}

		gen, err := r.store.Commit(ctx, &storage.Batch{
			Backfill:   result.Vectors,
			Dimensions: result.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("committing vectors: %w", err)
		}
		stats.Generation = gen
		stats.Embedded += len(result.Vectors)
		tracker.Increment(len(records))
		return nil
	})
	if errors.Is(err, errStopBackfill) {
		r.logger.Warn("embedding service unavailable, leaving records for a later sync",
			"remaining", len(ids)-stats.Embedded)
		err = nil
	}
	if err != nil {
		return stats, err
	}

	if r.progress != nil {
		tracker.Finish()
		elapsed := tracker.Elapsed()
		fmt.Fprintf(r.progress, "Embedding complete. %d records in %v\n",
			stats.Embedded, elapsed.Round(time.Millisecond))
	}
	return stats, nil
}

var errStopBackfill = errors.New("backfill stopped")
