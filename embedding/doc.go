// Package embedding turns record text into vectors for the semantic side
// of memex search.
//
// Generator batches texts, runs the batches on an ants worker pool and
// retries each with exponential backoff. A batch that keeps failing
// leaves its records without vectors, which keeps them searchable
// lexically; the store marks them so a later Reembedder.Backfill can
// fill them in. Reembedder.Run regenerates every vector after a model
// change.
package embedding
