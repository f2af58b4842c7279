package badger

import (
	"encoding/binary"

	"github.com/poiesic/memex/core"
)

// Key prefixes for different data types
const (
	formatKey      = "meta:format"
	generationKey  = "gen:current"
	manifestPrefix = "man:"
	recordPrefix   = "rec:"
	filePrefix     = "file:"
	sessionPrefix  = "ses:"
	tokenPrefix    = "lex:t:"
	docCountKey    = "lex:n"
	vectorPrefix   = "vec:v:"
	missingPrefix  = "vec:m:"
	dimensionsKey  = "vec:dims"
)

// makeRecordKey generates a key for a record by doc id.
// Format: prefix + id (8 bytes big endian)
func makeRecordKey(id core.ID) []byte {
	return appendID([]byte(recordPrefix), id)
}

// pathHash shortens a file path to a fixed width key component.
func pathHash(path string) uint64 {
	return uint64(core.IDFromContent(path))
}

// makeFilePrefix generates the prefix shared by every record of one file.
func makeFilePrefix(path string) []byte {
	return binary.BigEndian.AppendUint64([]byte(filePrefix), pathHash(path))
}

// makeFileKey generates a key in the per-file index.
// Format: prefix + pathHash + offset + part, so a prefix scan returns
// the file's records in byte order.
func makeFileKey(r *core.Record) []byte {
	return appendPosition(makeFilePrefix(r.Path), r)
}

// makeSessionPrefix generates the prefix shared by every record of one session.
func makeSessionPrefix(sessionID string) []byte {
	buf := make([]byte, 0, len(sessionPrefix)+len(sessionID)+1)
	buf = append(buf, sessionPrefix...)
	buf = append(buf, sessionID...)
	return append(buf, 0)
}

// makeSessionKey generates a key in the session index.
// Format: prefix + sessionID + 0x00 + pathHash + offset + part
func makeSessionKey(r *core.Record) []byte {
	buf := binary.BigEndian.AppendUint64(makeSessionPrefix(r.SessionID), pathHash(r.Path))
	return appendPosition(buf, r)
}

func appendPosition(buf []byte, r *core.Record) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.RawOffset))
	return binary.BigEndian.AppendUint32(buf, uint32(r.Part))
}

// makeManifestKey generates a key for a file's manifest entry.
func makeManifestKey(path string) []byte {
	return []byte(manifestPrefix + path)
}

// makeTokenKey generates a key for a token's posting list.
func makeTokenKey(token string) []byte {
	return []byte(tokenPrefix + token)
}

// makeVectorKey generates a key for a record's embedding.
func makeVectorKey(id core.ID) []byte {
	return appendID([]byte(vectorPrefix), id)
}

// makeMissingKey generates a marker key for a record awaiting an embedding.
func makeMissingKey(id core.ID) []byte {
	return appendID([]byte(missingPrefix), id)
}

func appendID(buf []byte, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// idFromKey extracts the trailing doc id of a record, vector or marker key.
func idFromKey(key []byte, prefix string) (core.ID, bool) {
	if len(key) != len(prefix)+8 {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(prefix):])), true
}
