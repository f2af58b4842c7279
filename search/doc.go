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

// Package search runs queries over one pinned index snapshot.
//
// The Engine supports three modes:
//   - exact: TF-IDF scoring over the lexical index
//   - semantic: cosine similarity between the query embedding and stored vectors
//   - hybrid: both, min-max normalized and blended with configurable weights
//
// Filters are applied to every candidate before session grouping, sorting
// and the limit. When the query embedding cannot be produced, semantic and
// hybrid queries fall back to lexical scoring with a warning.
package search
