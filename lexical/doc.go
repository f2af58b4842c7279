// Package lexical implements the inverted-index side of memex search.
//
// Text is tokenized by lowercasing and splitting on anything that is not
// a letter or digit. Documents are scored per distinct query term as
// (1 + ln tf) * ln(1 + N/df) and summed. Posting lists themselves are
// persisted by the storage layer; this package reads them through
// storage.PostingReader.
package lexical
