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

package storage

import (
	"fmt"
	"slices"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/memex/core"
)

// encoder appends mus-encoded values to a growing buffer.
type encoder struct {
	bs []byte
}

func (e *encoder) reserve(n int) []byte {
	start := len(e.bs)
	e.bs = slices.Grow(e.bs, n)[:start+n]
	return e.bs[start:]
}

func (e *encoder) uint64(v uint64) {
	varint.Uint64.Marshal(v, e.reserve(varint.Uint64.Size(v)))
}

func (e *encoder) int64(v int64) {
	varint.Int64.Marshal(v, e.reserve(varint.Int64.Size(v)))
}

func (e *encoder) string(v string) {
	ord.String.Marshal(v, e.reserve(ord.String.Size(v)))
}

func (e *encoder) float32(v float32) {
	raw.Float32.Marshal(v, e.reserve(raw.Float32.Size(v)))
}

// decoder reads mus-encoded values in order. The first error sticks and
// every later read returns the zero value.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

// length reads an element count and rejects counts the remaining bytes
// cannot possibly hold.
func (d *decoder) length(minElemSize int) int {
	count := d.uint64()
	if d.err != nil {
		return 0
	}
	if count > uint64((len(d.bs)-d.n)/minElemSize) {
		d.err = ErrTruncatedData
		return 0
	}
	return int(count)
}

func (d *decoder) done(what string) error {
	if d.err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, what, d.err)
	}
	return nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	var e encoder
	e.uint64(uint64(id))
	return e.bs
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	d := decoder{bs: data}
	id := core.ID(d.uint64())
	return id, d.done("id")
}

// MarshalUint64 serializes a counter value.
func MarshalUint64(v uint64) []byte {
	var e encoder
	e.uint64(v)
	return e.bs
}

// UnmarshalUint64 deserializes a counter value.
func UnmarshalUint64(data []byte) (uint64, error) {
	d := decoder{bs: data}
	v := d.uint64()
	return v, d.done("counter")
}

// MarshalRecord serializes a Record to bytes.
func MarshalRecord(record *core.Record) []byte {
	e := encoder{bs: make([]byte, 0, 64+len(record.Text))}
	e.uint64(uint64(record.DocID))
	e.string(record.SessionID)
	e.int64(int64(record.Source))
	e.int64(int64(record.Role))
	e.int64(record.Timestamp)
	e.string(record.Project)
	e.string(record.Tool)
	e.string(record.Text)
	e.string(record.Path)
	e.int64(record.RawOffset)
	e.int64(int64(record.Part))
	return e.bs
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	d := decoder{bs: data}
	record := &core.Record{
		DocID:     core.ID(d.uint64()),
		SessionID: d.string(),
		Source:    core.Source(d.int64()),
		Role:      core.Role(d.int64()),
		Timestamp: d.int64(),
		Project:   d.string(),
		Tool:      d.string(),
		Text:      d.string(),
		Path:      d.string(),
		RawOffset: d.int64(),
		Part:      int(d.int64()),
	}
	if err := d.done("record"); err != nil {
		return nil, err
	}
	return record, nil
}

// MarshalManifestEntry serializes a ManifestEntry to bytes.
func MarshalManifestEntry(entry *core.ManifestEntry) []byte {
	var e encoder
	e.string(entry.Path)
	e.int64(int64(entry.Source))
	e.int64(entry.Size)
	e.int64(entry.ModTime)
	e.string(string(entry.PrefixHash))
	e.int64(entry.Offset)
	e.uint64(entry.Generation)
	e.int64(entry.Records)
	e.string(entry.State.SessionID)
	e.string(entry.State.Project)
	e.uint64(uint64(len(entry.State.PendingCalls)))
	for _, c := range entry.State.PendingCalls {
		e.string(c.ID)
		e.string(c.Name)
	}
	return e.bs
}

// UnmarshalManifestEntry deserializes a ManifestEntry from bytes.
func UnmarshalManifestEntry(data []byte) (*core.ManifestEntry, error) {
	d := decoder{bs: data}
	entry := &core.ManifestEntry{
		Path:       d.string(),
		Source:     core.Source(d.int64()),
		Size:       d.int64(),
		ModTime:    d.int64(),
		PrefixHash: []byte(d.string()),
		Offset:     d.int64(),
		Generation: d.uint64(),
		Records:    d.int64(),
	}
	entry.State.SessionID = d.string()
	entry.State.Project = d.string()
	if n := d.length(2); n > 0 {
		entry.State.PendingCalls = make([]core.ToolCall, n)
		for i := range entry.State.PendingCalls {
			entry.State.PendingCalls[i] = core.ToolCall{ID: d.string(), Name: d.string()}
		}
	}
	if err := d.done("manifest entry"); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarshalPostings serializes a posting list. The list must be sorted by
// doc id; ids are stored as deltas from their predecessor.
func MarshalPostings(postings []Posting) []byte {
	e := encoder{bs: make([]byte, 0, 1+len(postings)*6)}
	e.uint64(uint64(len(postings)))
	var prev core.ID
	for _, p := range postings {
		e.uint64(uint64(p.DocID - prev))
		e.uint64(uint64(p.TF))
		prev = p.DocID
	}
	return e.bs
}

// UnmarshalPostings deserializes a posting list.
func UnmarshalPostings(data []byte) ([]Posting, error) {
	d := decoder{bs: data}
	count := d.length(2)
	postings := make([]Posting, 0, count)
	var prev core.ID
	for i := 0; i < count && d.err == nil; i++ {
		id := prev + core.ID(d.uint64())
		tf := d.uint64()
		postings = append(postings, Posting{DocID: id, TF: uint32(tf)})
		prev = id
	}
	if err := d.done("postings"); err != nil {
		return nil, err
	}
	return postings, nil
}

// MarshalVector serializes an embedding vector.
func MarshalVector(vector []float32) []byte {
	e := encoder{bs: make([]byte, 0, 2+len(vector)*4)}
	e.uint64(uint64(len(vector)))
	for _, v := range vector {
		e.float32(v)
	}
	return e.bs
}

// UnmarshalVector deserializes an embedding vector.
func UnmarshalVector(data []byte) ([]float32, error) {
	d := decoder{bs: data}
	count := d.length(4)
	vector := make([]float32, 0, count)
	for i := 0; i < count && d.err == nil; i++ {
		vector = append(vector, d.float32())
	}
	if err := d.done("vector"); err != nil {
		return nil, err
	}
	return vector, nil
}
