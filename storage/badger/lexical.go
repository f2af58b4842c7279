package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/lexical"
	"github.com/poiesic/memex/storage"
)

// tokenDelta accumulates the posting changes of one token within a commit.
type tokenDelta struct {
	adds    map[core.ID]uint32
	removes map[core.ID]bool
}

// postingDelta aggregates posting changes per token so every touched
// posting list is read and rewritten exactly once per commit.
type postingDelta struct {
	tokens   map[string]*tokenDelta
	docCount int64
}

func newPostingDelta() *postingDelta {
	return &postingDelta{tokens: make(map[string]*tokenDelta)}
}

func (d *postingDelta) token(tok string) *tokenDelta {
	td, ok := d.tokens[tok]
	if !ok {
		td = &tokenDelta{adds: make(map[core.ID]uint32), removes: make(map[core.ID]bool)}
		d.tokens[tok] = td
	}
	return td
}

func (d *postingDelta) add(r *core.Record) {
	for tok, tf := range lexical.TermFrequencies(r.Text) {
		d.token(tok).adds[r.DocID] = tf
	}
	d.docCount++
}

func (d *postingDelta) remove(r *core.Record) {
	for tok := range lexical.TermFrequencies(r.Text) {
		td := d.token(tok)
		delete(td.adds, r.DocID)
		td.removes[r.DocID] = true
	}
	d.docCount--
}

// apply rewrites every touched posting list and the document count.
func (d *postingDelta) apply(tx *badger.Txn) error {
	for tok, td := range d.tokens {
		current, err := readPostings(tx, tok)
		if err != nil {
			return err
		}
		next := make([]storage.Posting, 0, len(current)+len(td.adds))
		for _, p := range current {
			if td.removes[p.DocID] {
				continue
			}
			if _, readded := td.adds[p.DocID]; readded {
				continue
			}
			next = append(next, p)
		}
		for id, tf := range td.adds {
			next = append(next, storage.Posting{DocID: id, TF: tf})
		}

		key := makeTokenKey(tok)
		if len(next) == 0 {
			if err := tx.Delete(key); err != nil {
				return err
			}
			continue
		}
		slices.SortFunc(next, func(a, b storage.Posting) int {
			return cmp.Compare(a.DocID, b.DocID)
		})
		if err := tx.Set(key, storage.MarshalPostings(next)); err != nil {
			return err
		}
	}

	if d.docCount == 0 {
		return nil
	}
	n, err := readDocCount(tx)
	if err != nil {
		return err
	}
	n += d.docCount
	if n < 0 {
		return fmt.Errorf("%w: document count would become %d", core.ErrIndexCorruption, n)
	}
	return tx.Set([]byte(docCountKey), storage.MarshalUint64(uint64(n)))
}

func readPostings(tx *badger.Txn, token string) ([]storage.Posting, error) {
	item, err := tx.Get(makeTokenKey(token))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var postings []storage.Posting
	err = item.Value(func(val []byte) error {
		postings, err = storage.UnmarshalPostings(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: postings for %q: %w", core.ErrIndexCorruption, token, err)
	}
	return postings, nil
}

func readDocCount(tx *badger.Txn) (int64, error) {
	v, err := readCounter(tx, docCountKey)
	return int64(v), err
}

// readCounter reads a varint counter key, 0 when absent.
func readCounter(tx *badger.Txn, key string) (uint64, error) {
	item, err := tx.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		v, err = storage.UnmarshalUint64(val)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", core.ErrIndexCorruption, key, err)
	}
	return v, nil
}

// Postings returns the posting list of a token, sorted by doc id.
func (s *snapshot) Postings(ctx context.Context, token string) ([]storage.Posting, error) {
	return readPostings(s.tx, token)
}

// DocCount returns the number of indexed records.
func (s *snapshot) DocCount(ctx context.Context) (int64, error) {
	return readDocCount(s.tx)
}
