// Package memory is an in-process ledger.Store with the same conditional
// write semantics as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

var _ ledger.Store = (*Store)(nil)

type entry struct {
	recordType ledger.RecordType
	date       string
	version    int64
	data       []byte
}

type Store struct {
	mu       sync.RWMutex
	items    map[ledger.Key]entry
	maxItems int
}

type Option func(*Store)

// WithMaxItems overrides the per-transaction item limit.
func WithMaxItems(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		items:    make(map[ledger.Key]entry),
		maxItems: ledger.DefaultMaxItems,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Get(_ context.Context, key ledger.Key) (ledger.Item, error) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return ledger.Item{}, fmt.Errorf("get %s: %w", key, ledger.ErrNotFound)
	}

	return decodeEntry(e)
}

func (s *Store) Query(_ context.Context, q ledger.Query) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]ledger.Key, 0)
	for k, e := range s.items {
		if q.RecordType != "" && e.recordType != q.RecordType {
			continue
		}

		var match bool
		switch q.Index {
		case ledger.IndexPrimary:
			match = k.PK == q.Value
		case ledger.IndexSecondary:
			match = k.SK == q.Value
		case ledger.IndexDate:
			match = e.date != "" && e.date == q.Value
		case ledger.IndexRecordType:
			match = string(e.recordType) == q.Value
		default:
			return nil, fmt.Errorf("query: unknown index %q", q.Index)
		}

		if match {
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}

		return keys[i].SK < keys[j].SK
	})

	out := make([]ledger.Item, 0, len(keys))
	for _, k := range keys {
		it, err := decodeEntry(s.items[k])
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", k, err)
		}

		out = append(out, it)
	}

	return out, nil
}

// TransactWrite checks every precondition under one lock and applies all
// writes only when none failed.
func (s *Store) TransactWrite(_ context.Context, writes []ledger.Write) error {
	err := ledger.ValidateWrites(writes, s.maxItems)
	if err != nil {
		return fmt.Errorf("transact write: %w", err)
	}

	encoded := make([][]byte, len(writes))
	for i, w := range writes {
		data, err := ledger.Encode(w.Record)
		if err != nil {
			return fmt.Errorf("transact write: %w", err)
		}

		encoded[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var reasons []ledger.CancellationReason
	for _, w := range writes {
		k := w.Record.Key()
		cur, exists := s.items[k]

		ok := (w.ExpectedVersion == 0 && !exists) ||
			(w.ExpectedVersion > 0 && exists && cur.version == w.ExpectedVersion)
		if !ok {
			reasons = append(reasons, ledger.CancellationReason{Key: k, Code: ledger.CodeConditionalCheckFailed})
		}
	}

	if len(reasons) > 0 {
		return &ledger.TransactionCanceledError{Reasons: reasons}
	}

	for i, w := range writes {
		s.items[w.Record.Key()] = entry{
			recordType: w.Record.RecordType(),
			date:       w.Record.IndexDate(),
			version:    w.ExpectedVersion + 1,
			data:       encoded[i],
		}
	}

	return nil
}

// Seed stores records unconditionally at version 1. Intended for fixtures.
func (s *Store) Seed(records ...ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		data, err := ledger.Encode(rec)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}

		s.items[rec.Key()] = entry{
			recordType: rec.RecordType(),
			date:       rec.IndexDate(),
			version:    1,
			data:       data,
		}
	}

	return nil
}

func decodeEntry(e entry) (ledger.Item, error) {
	rec, err := ledger.Decode(e.recordType, e.data)
	if err != nil {
		return ledger.Item{}, err
	}

	return ledger.Item{Record: rec, Version: e.version}, nil
}
