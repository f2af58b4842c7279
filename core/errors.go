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

package core

import "errors"

// Operational error taxonomy. Callers wrap these with fmt.Errorf("%w: ...")
// and test for them with errors.Is.
var (
	// ErrConfig indicates a bad index root or configuration file.
	ErrConfig = errors.New("configuration error")

	// ErrIndexCorruption indicates the manifest or index data is unreadable or inconsistent.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrNotIndexed indicates the index exists but nothing has been committed yet.
	ErrNotIndexed = errors.New("index is empty")

	// ErrEmbeddingUnavailable indicates the embedding generator failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrEmbeddingsDisabled indicates semantic scoring was requested with embeddings turned off.
	ErrEmbeddingsDisabled = errors.New("embeddings are disabled")

	// ErrQuery indicates an invalid filter or flag combination.
	ErrQuery = errors.New("query error")

	// ErrLockTimeout indicates the writer lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for index lock")

	// ErrIndexBusy indicates another process holds the index open for writing.
	ErrIndexBusy = errors.New("index is busy")
)

// Domain validation errors
var (
	// ErrInvalidRecord indicates a Record failed validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyText indicates the Text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptySession indicates the SessionID field is empty.
	ErrEmptySession = errors.New("session id cannot be empty")

	// ErrInvalidRole indicates an invalid Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidSource indicates an invalid Source value.
	ErrInvalidSource = errors.New("invalid source")
)
