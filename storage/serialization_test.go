package storage

import (
	"testing"

	"github.com/poiesic/memex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"zero ID", core.ID(0)},
		{"small ID", core.ID(42)},
		{"large ID", core.ID(18446744073709551615)}, // max uint64
		{"content-based ID", core.IDFromContent("test content")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalID_Invalid(t *testing.T) {
	_, err := UnmarshalID([]byte{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMarshalUnmarshalRecord(t *testing.T) {
	tests := []struct {
		name   string
		record *core.Record
	}{
		{
			name: "full record",
			record: &core.Record{
				DocID:     core.DocID(core.SourceClaude, "/logs/a.jsonl", "s1", 512, 2),
				SessionID: "s1",
				Source:    core.SourceClaude,
				Role:      core.RoleToolUse,
				Timestamp: 1735689600,
				Project:   "/home/dev/proj",
				Tool:      "Bash",
				Text:      "go test ./... ünïcode",
				Path:      "/logs/a.jsonl",
				RawOffset: 512,
				Part:      2,
			},
		},
		{
			name: "minimal record",
			record: &core.Record{
				DocID:     1,
				SessionID: "s",
				Source:    core.SourceCodex,
				Role:      core.RoleUser,
				Text:      "x",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := UnmarshalRecord(MarshalRecord(tt.record))
			require.NoError(t, err)
			assert.Equal(t, tt.record, decoded)
		})
	}
}

func TestUnmarshalRecord_Truncated(t *testing.T) {
	data := MarshalRecord(&core.Record{DocID: 7, SessionID: "s", Text: "hello world"})
	_, err := UnmarshalRecord(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMarshalUnmarshalManifestEntry(t *testing.T) {
	entry := &core.ManifestEntry{
		Path:       "/logs/rollout.jsonl",
		Source:     core.SourceCodex,
		Size:       4096,
		ModTime:    1735689600123456789,
		PrefixHash: []byte{0x01, 0x02, 0xff},
		Offset:     4000,
		Generation: 12,
		Records:    33,
		State: core.ParserState{
			SessionID:    "abc",
			Project:      "/work",
			PendingCalls: []core.ToolCall{{ID: "call_1", Name: "shell"}, {ID: "call_2", Name: "apply_patch"}},
		},
	}

	decoded, err := UnmarshalManifestEntry(MarshalManifestEntry(entry))
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)

	entry.State.PendingCalls = nil
	decoded, err = UnmarshalManifestEntry(MarshalManifestEntry(entry))
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)
}

func TestMarshalUnmarshalPostings(t *testing.T) {
	postings := []Posting{
		{DocID: 3, TF: 1},
		{DocID: 17, TF: 4},
		{DocID: 1 << 62, TF: 2},
	}

	decoded, err := UnmarshalPostings(MarshalPostings(postings))
	require.NoError(t, err)
	assert.Equal(t, postings, decoded)

	empty, err := UnmarshalPostings(MarshalPostings(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnmarshalPostings_BogusCount(t *testing.T) {
	// Claims a million postings but carries none.
	data := MarshalUint64(1_000_000)
	_, err := UnmarshalPostings(data)
	assert.ErrorIs(t, err, ErrSerializationFailed)
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestMarshalUnmarshalVector(t *testing.T) {
	vector := []float32{0.5, -0.25, 0, 1}

	decoded, err := UnmarshalVector(MarshalVector(vector))
	require.NoError(t, err)
	assert.Equal(t, vector, decoded)
}
