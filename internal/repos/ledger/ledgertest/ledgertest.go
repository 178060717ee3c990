// Package ledgertest holds the behavior every ledger.Store implementation must share.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

// NewStore returns an empty store scoped to one test.
type NewStore func(t *testing.T) ledger.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore NewStore) {
	t.Helper()

	t.Run("get_missing", func(t *testing.T) {
		t.Parallel()
		testGetMissing(t, newStore(t))
	})
	t.Run("create_then_update", func(t *testing.T) {
		t.Parallel()
		testCreateThenUpdate(t, newStore(t))
	})
	t.Run("create_existing_fails", func(t *testing.T) {
		t.Parallel()
		testCreateExistingFails(t, newStore(t))
	})
	t.Run("stale_version_cancels_all", func(t *testing.T) {
		t.Parallel()
		testStaleVersionCancelsAll(t, newStore(t))
	})
	t.Run("invalid_write_sets", func(t *testing.T) {
		t.Parallel()
		testInvalidWriteSets(t, newStore(t))
	})
	t.Run("query_indexes", func(t *testing.T) {
		t.Parallel()
		testQueryIndexes(t, newStore(t))
	})
	t.Run("concurrent_updates", func(t *testing.T) {
		t.Parallel()
		testConcurrentUpdates(t, newStore(t))
	})
}

func ctx(t *testing.T) context.Context {
	t.Helper()

	c, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	t.Cleanup(cancel)

	return c
}

func mustWrite(t *testing.T, s ledger.Store, writes ...ledger.Write) {
	t.Helper()

	err := s.TransactWrite(ctx(t), writes)
	if err != nil {
		t.Fatalf("transact write: %v", err)
	}
}

func mustGet(t *testing.T, s ledger.Store, key ledger.Key) ledger.Item {
	t.Helper()

	it, err := s.Get(ctx(t), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}

	return it
}

func testGetMissing(t *testing.T, s ledger.Store) {
	_, err := s.Get(ctx(t), ledger.UserKey("nobody"))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testCreateThenUpdate(t *testing.T, s ledger.Store) {
	u := &ledger.User{ID: "u1", Balance: decimal.RequireFromString("10.50"), NotificationEndpoint: "dev-1"}
	mustWrite(t, s, ledger.Put(u))

	it := mustGet(t, s, u.Key())
	if it.Version != 1 {
		t.Fatalf("created version: want 1, got %d", it.Version)
	}

	got, err := it.User()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !got.Balance.Equal(u.Balance) || got.NotificationEndpoint != "dev-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	updated := *got
	updated.Balance = updated.Balance.Add(decimal.NewFromInt(5))
	updated.CorrectTypingsCount = 1
	mustWrite(t, s, ledger.Update(it, &updated))

	it = mustGet(t, s, u.Key())
	if it.Version != 2 {
		t.Fatalf("updated version: want 2, got %d", it.Version)
	}

	got, _ = it.User()
	if !got.Balance.Equal(decimal.RequireFromString("15.50")) || got.CorrectTypingsCount != 1 {
		t.Fatalf("update lost: %+v", got)
	}
}

func testCreateExistingFails(t *testing.T, s ledger.Store) {
	p := &ledger.PoolRecord{Date: "2026-06-02", Balance: decimal.NewFromInt(3)}
	mustWrite(t, s, ledger.Put(p))

	err := s.TransactWrite(ctx(t), []ledger.Write{ledger.Put(&ledger.PoolRecord{Date: "2026-06-02"})})

	var canceled *ledger.TransactionCanceledError
	if !errors.As(err, &canceled) || !canceled.Failed(p.Key()) {
		t.Fatalf("want cancellation on %s, got %v", p.Key(), err)
	}

	got, _ := mustGet(t, s, p.Key()).Pool()
	if !got.Balance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("existing item overwritten: %s", got.Balance)
	}
}

func testStaleVersionCancelsAll(t *testing.T, s ledger.Store) {
	u := &ledger.User{ID: "u1", Balance: decimal.NewFromInt(1)}
	p := &ledger.PoolRecord{Date: "2026-06-02", Balance: decimal.NewFromInt(1)}
	mustWrite(t, s, ledger.Put(u), ledger.Put(p))

	userItem := mustGet(t, s, u.Key())
	poolItem := mustGet(t, s, p.Key())

	// Someone else moves the pool forward.
	bumped := *p
	bumped.Balance = decimal.NewFromInt(2)
	mustWrite(t, s, ledger.Update(poolItem, &bumped))

	credited := *u
	credited.Balance = decimal.NewFromInt(100)
	drained := *p
	drained.Balance = decimal.Zero
	msg := &ledger.Message{UserID: "u1", MatchID: "m1", Date: "2026-06-01", Amount: decimal.NewFromInt(99)}

	err := s.TransactWrite(ctx(t), []ledger.Write{
		ledger.Update(userItem, &credited),
		ledger.Update(poolItem, &drained),
		ledger.Put(msg),
	})
	if !errors.Is(err, ledger.ErrTransactionCanceled) {
		t.Fatalf("want ErrTransactionCanceled, got %v", err)
	}

	var canceled *ledger.TransactionCanceledError
	if !errors.As(err, &canceled) || !canceled.Failed(p.Key()) || canceled.Failed(u.Key()) {
		t.Fatalf("reasons should name only the pool: %v", err)
	}

	if it := mustGet(t, s, u.Key()); it.Version != 1 {
		t.Fatalf("user written despite cancellation: version %d", it.Version)
	}

	_, err = s.Get(ctx(t), msg.Key())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("message created despite cancellation: %v", err)
	}
}

func testInvalidWriteSets(t *testing.T, s ledger.Store) {
	u := &ledger.User{ID: "u1"}

	tests := []struct {
		name   string
		writes []ledger.Write
	}{
		{name: "empty", writes: nil},
		{name: "nil_record", writes: []ledger.Write{{}}},
		{name: "negative_version", writes: []ledger.Write{{Record: u, ExpectedVersion: -1}}},
		{name: "duplicate_key", writes: []ledger.Write{ledger.Put(u), ledger.Put(&ledger.User{ID: "u1"})}},
	}

	for _, tt := range tests {
		err := s.TransactWrite(ctx(t), tt.writes)
		if !errors.Is(err, ledger.ErrInvalidTransaction) {
			t.Fatalf("%s: want ErrInvalidTransaction, got %v", tt.name, err)
		}
	}

	_, err := s.Get(ctx(t), u.Key())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("invalid write-set left data behind: %v", err)
	}
}

func testQueryIndexes(t *testing.T, s ledger.Store) {
	home, away := 1, 0
	mustWrite(t, s,
		ledger.Put(&ledger.Match{ID: "m1", Date: "2026-06-01", Status: ledger.MatchFinished, HomeScore: &home, AwayScore: &away}),
		ledger.Put(&ledger.Match{ID: "m2", Date: "2026-06-02", Status: ledger.MatchScheduled}),
		ledger.Put(&ledger.Typing{MatchID: "m1", UserID: "u2", Status: ledger.TypingUnknown}),
		ledger.Put(&ledger.Typing{MatchID: "m1", UserID: "u1", Status: ledger.TypingUnknown}),
		ledger.Put(&ledger.Typing{MatchID: "m2", UserID: "u1", Status: ledger.TypingUnknown}),
		ledger.Put(&ledger.PoolRecord{Date: "2026-06-01"}),
		ledger.Put(&ledger.User{ID: "u1"}),
	)

	tests := []struct {
		name string
		q    ledger.Query
		want []ledger.Key
	}{
		{
			name: "typings_of_match_sorted",
			q:    ledger.Query{Index: ledger.IndexPrimary, Value: "m1", RecordType: ledger.RecordTyping},
			want: []ledger.Key{ledger.TypingKey("m1", "u1"), ledger.TypingKey("m1", "u2")},
		},
		{
			name: "primary_without_filter",
			q:    ledger.Query{Index: ledger.IndexPrimary, Value: "m1"},
			want: []ledger.Key{ledger.MatchKey("m1"), ledger.TypingKey("m1", "u1"), ledger.TypingKey("m1", "u2")},
		},
		{
			name: "typings_of_user",
			q:    ledger.Query{Index: ledger.IndexSecondary, Value: "u1", RecordType: ledger.RecordTyping},
			want: []ledger.Key{ledger.TypingKey("m1", "u1"), ledger.TypingKey("m2", "u1")},
		},
		{
			name: "day",
			q:    ledger.Query{Index: ledger.IndexDate, Value: "2026-06-01"},
			want: []ledger.Key{ledger.MatchKey("m1"), ledger.PoolKey("2026-06-01")},
		},
		{
			name: "kind",
			q:    ledger.Query{Index: ledger.IndexRecordType, Value: string(ledger.RecordMatch)},
			want: []ledger.Key{ledger.MatchKey("m1"), ledger.MatchKey("m2")},
		},
		{
			name: "no_hits",
			q:    ledger.Query{Index: ledger.IndexDate, Value: "1999-01-01"},
			want: nil,
		},
	}

	for _, tt := range tests {
		items, err := s.Query(ctx(t), tt.q)
		if err != nil {
			t.Fatalf("%s: query: %v", tt.name, err)
		}

		if len(items) != len(tt.want) {
			t.Fatalf("%s: want %d items, got %d", tt.name, len(tt.want), len(items))
		}

		for i, it := range items {
			if it.Record.Key() != tt.want[i] {
				t.Fatalf("%s: item %d: want %s, got %s", tt.name, i, tt.want[i], it.Record.Key())
			}
		}
	}

	_, err := s.Query(ctx(t), ledger.Query{Index: "bogus", Value: "x"})
	if err == nil {
		t.Fatalf("unknown index accepted")
	}
}

// testConcurrentUpdates races writers that all read version 1 of the same item.
func testConcurrentUpdates(t *testing.T, s ledger.Store) {
	const workers = 8

	p := &ledger.PoolRecord{Date: "2026-06-02", Balance: decimal.Zero}
	mustWrite(t, s, ledger.Put(p))
	base := mustGet(t, s, p.Key())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		canceled int
	)

	wg.Add(workers)
	for i := range workers {
		go func(amount int64) {
			defer wg.Done()

			next := *p
			next.Balance = decimal.NewFromInt(amount)

			err := s.TransactWrite(context.Background(), []ledger.Write{ledger.Update(base, &next)})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				success++
			case errors.Is(err, ledger.ErrTransactionCanceled):
				canceled++
			default:
				t.Errorf("worker %d: unexpected error: %v", amount, err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if success != 1 || canceled != workers-1 {
		t.Fatalf("want 1 success and %d canceled, got success=%d canceled=%d", workers-1, success, canceled)
	}

	if it := mustGet(t, s, p.Key()); it.Version != 2 {
		t.Fatalf("final version: want 2, got %d", it.Version)
	}
}
