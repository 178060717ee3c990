package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/typingpool/internal/infra/metrics"
	"github.com/fastprodman/typingpool/internal/notify"
	"github.com/fastprodman/typingpool/internal/repos/ledger"
	"github.com/fastprodman/typingpool/internal/repos/ledger/memory"
)

const (
	matchDate = "2026-06-01"
	nextDate  = "2026-06-02"
)

var fixedNow = time.Date(2026, 6, 1, 21, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func finishedMatch(id, pool string, home, away *int) *ledger.Match {
	return &ledger.Match{
		ID:        id,
		Date:      matchDate,
		StartTime: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
		HomeTeam:  "Poland",
		AwayTeam:  "Czechia",
		HomeScore: home,
		AwayScore: away,
		Status:    ledger.MatchFinished,
		Pool:      dec(pool),
	}
}

func user(id, balance string) *ledger.User {
	return &ledger.User{ID: id, Balance: dec(balance), NotificationEndpoint: "device-" + id}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  map[string]notify.Payload
}

func newRecordingDispatcher(failOn ...string) *recordingDispatcher {
	d := &recordingDispatcher{failOn: map[string]bool{}, calls: map[string]notify.Payload{}}
	for _, u := range failOn {
		d.failOn[u] = true
	}

	return d
}

func (d *recordingDispatcher) Notify(_ context.Context, userID string, p notify.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls[userID] = p
	if d.failOn[userID] {
		return errors.New("device unreachable")
	}

	return nil
}

func (d *recordingDispatcher) called() map[string]notify.Payload {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]notify.Payload, len(d.calls))
	for k, v := range d.calls {
		out[k] = v
	}

	return out
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	notifier *recordingDispatcher
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config, seed ...ledger.Record) *fixture {
	t.Helper()

	store := memory.New()

	err := store.Seed(seed...)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	return newFixtureOn(t, store, store, cfg)
}

func newFixtureOn(t *testing.T, mem *memory.Store, store ledger.Store, cfg Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:    mem,
		notifier: newRecordingDispatcher(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}

	opts = append([]Option{
		WithDispatcher(f.notifier),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	f.svc = New(store, cfg, opts...)

	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	err := f.svc.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func (f *fixture) match(t *testing.T, id string) ledger.Item {
	t.Helper()

	it, err := f.store.Get(t.Context(), ledger.MatchKey(id))
	if err != nil {
		t.Fatalf("get match %s: %v", id, err)
	}

	return it
}

func (f *fixture) user(t *testing.T, id string) *ledger.User {
	t.Helper()

	it, err := f.store.Get(t.Context(), ledger.UserKey(id))
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}

	u, err := it.User()
	if err != nil {
		t.Fatalf("decode user %s: %v", id, err)
	}

	return u
}

func (f *fixture) poolBalance(t *testing.T, date string) decimal.Decimal {
	t.Helper()

	it, err := f.store.Get(t.Context(), ledger.PoolKey(date))
	if err != nil {
		t.Fatalf("get pool %s: %v", date, err)
	}

	p, err := it.Pool()
	if err != nil {
		t.Fatalf("decode pool %s: %v", date, err)
	}

	return p.Balance
}

func (f *fixture) typingStatuses(t *testing.T, matchID string) map[string]ledger.TypingStatus {
	t.Helper()

	items, err := f.store.Query(t.Context(), ledger.Query{Index: ledger.IndexPrimary, Value: matchID, RecordType: ledger.RecordTyping})
	if err != nil {
		t.Fatalf("query typings: %v", err)
	}

	out := make(map[string]ledger.TypingStatus, len(items))
	for _, it := range items {
		typ, err := it.Typing()
		if err != nil {
			t.Fatalf("decode typing: %v", err)
		}

		out[typ.UserID] = typ.Status
	}

	return out
}

// scenarioA: pool 100.00, final 2:1, u1 and u4 typed correctly.
func scenarioA() []ledger.Record {
	return []ledger.Record{
		finishedMatch("m1", "100.00", intPtr(2), intPtr(1)),
		typingOf("m1", "u1", 2, 1),
		typingOf("m1", "u2", 1, 2),
		typingOf("m1", "u3", 2, 0),
		typingOf("m1", "u4", 2, 1),
		typingOf("m1", "u5", 0, 1),
		user("u1", "10.00"), user("u2", "10.00"), user("u3", "10.00"), user("u4", "10.00"), user("u5", "10.00"),
		&ledger.PoolRecord{Date: nextDate, Balance: dec("0")},
	}
}

func TestSettle_ScenarioA_Winners(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CarryResidual: true}, scenarioA()...)

	res, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	f.wait(t)

	if res.Outcome != OutcomeAllocated || res.State != StateCommitted {
		t.Fatalf("unexpected outcome/state: %s/%s", res.Outcome, res.State)
	}

	if !res.PerWinner.Equal(dec("50.00")) || !res.Residual.IsZero() {
		t.Fatalf("per winner %s residual %s", res.PerWinner, res.Residual)
	}

	for _, id := range []string{"u1", "u4"} {
		u := f.user(t, id)
		if !u.Balance.Equal(dec("60.00")) || u.CorrectTypingsCount != 1 {
			t.Fatalf("winner %s: balance %s count %d", id, u.Balance, u.CorrectTypingsCount)
		}

		it, err := f.store.Get(t.Context(), ledger.MessageKey(id, "m1"))
		if err != nil {
			t.Fatalf("message for %s: %v", id, err)
		}

		msg, err := it.Message()
		if err != nil {
			t.Fatalf("decode message: %v", err)
		}

		if !msg.Amount.Equal(dec("50.00")) || msg.Date != matchDate {
			t.Fatalf("message for %s: %+v", id, msg)
		}
	}

	for _, id := range []string{"u2", "u3", "u5"} {
		if u := f.user(t, id); !u.Balance.Equal(dec("10.00")) {
			t.Fatalf("loser %s balance changed: %s", id, u.Balance)
		}

		_, err := f.store.Get(t.Context(), ledger.MessageKey(id, "m1"))
		if !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("unexpected message for loser %s: %v", id, err)
		}
	}

	m, err := f.match(t, "m1").Match()
	if err != nil {
		t.Fatalf("decode match: %v", err)
	}

	if !m.Pool.IsZero() || m.CorrectTypingsCount != 2 || m.SettlementID != res.SettlementID || m.SettledAt == nil {
		t.Fatalf("match after settlement: %+v", m)
	}

	want := map[string]ledger.TypingStatus{
		"u1": ledger.TypingCorrect, "u4": ledger.TypingCorrect,
		"u2": ledger.TypingIncorrect, "u3": ledger.TypingIncorrect, "u5": ledger.TypingIncorrect,
	}
	got := f.typingStatuses(t, "m1")
	for id, status := range want {
		if got[id] != status {
			t.Fatalf("typing %s: want %s, got %s", id, status, got[id])
		}
	}

	if bal := f.poolBalance(t, nextDate); !bal.IsZero() {
		t.Fatalf("next pool touched without residual: %s", bal)
	}

	calls := f.notifier.called()
	if len(calls) != 2 || calls["u1"].Endpoint != "device-u1" || !calls["u4"].Amount.Equal(dec("50.00")) {
		t.Fatalf("notifications: %+v", calls)
	}
}

func TestSettle_ScenarioB_Rollover(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CarryResidual: true},
		finishedMatch("m1", "100.00", intPtr(0), intPtr(0)),
		typingOf("m1", "u1", 1, 0),
		typingOf("m1", "u2", 2, 2),
		user("u1", "10.00"), user("u2", "10.00"),
		&ledger.PoolRecord{Date: nextDate, Balance: dec("5.00")},
	)

	res, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	f.wait(t)

	if res.Outcome != OutcomeRolledOver || !res.RolledOver.Equal(dec("100.00")) || res.NextPeriod != nextDate {
		t.Fatalf("unexpected result: %+v", res)
	}

	if bal := f.poolBalance(t, nextDate); !bal.Equal(dec("105.00")) {
		t.Fatalf("next pool: want 105.00, got %s", bal)
	}

	if got := testutil.ToFloat64(f.metrics.RolloverAmountTotal); got != 100 {
		t.Fatalf("rollover amount metric: %v", got)
	}

	m, err := f.match(t, "m1").Match()
	if err != nil {
		t.Fatalf("decode match: %v", err)
	}

	if !m.Pool.IsZero() || m.CorrectTypingsCount != 0 || !m.Settled() {
		t.Fatalf("match after rollover: %+v", m)
	}

	for id, status := range f.typingStatuses(t, "m1") {
		if status != ledger.TypingIncorrect {
			t.Fatalf("typing %s: want INCORRECT, got %s", id, status)
		}
	}

	for _, id := range []string{"u1", "u2"} {
		if u := f.user(t, id); !u.Balance.Equal(dec("10.00")) {
			t.Fatalf("user %s balance changed: %s", id, u.Balance)
		}
	}

	if len(f.notifier.called()) != 0 {
		t.Fatalf("no winner should be notified")
	}
}

func TestSettle_AbortsWithoutWrites(t *testing.T) {
	t.Parallel()

	inProgress := finishedMatch("m1", "100.00", intPtr(1), intPtr(0))
	inProgress.Status = ledger.MatchInProgress

	tests := []struct {
		name    string
		seed    []ledger.Record
		wantErr error
	}{
		{
			name: "missing_away_score",
			seed: []ledger.Record{
				finishedMatch("m1", "100.00", intPtr(1), nil),
				typingOf("m1", "u1", 1, 0), user("u1", "10.00"),
				&ledger.PoolRecord{Date: nextDate},
			},
			wantErr: ErrIncompleteResult,
		},
		{
			name: "not_finished",
			seed: []ledger.Record{
				inProgress, typingOf("m1", "u1", 1, 0), user("u1", "10.00"),
				&ledger.PoolRecord{Date: nextDate},
			},
			wantErr: ErrIncompleteResult,
		},
		{
			name:    "unknown_match",
			seed:    []ledger.Record{user("u1", "10.00")},
			wantErr: ErrMatchNotFound,
		},
		{
			name: "next_period_missing",
			seed: []ledger.Record{
				finishedMatch("m1", "100.00", intPtr(1), intPtr(0)),
				typingOf("m1", "u1", 3, 3), user("u1", "10.00"),
			},
			wantErr: ErrMissingPeriod,
		},
		{
			name: "winner_user_missing",
			seed: []ledger.Record{
				finishedMatch("m1", "100.00", intPtr(1), intPtr(0)),
				typingOf("m1", "u9", 1, 0), user("u1", "10.00"),
				&ledger.PoolRecord{Date: nextDate},
			},
			wantErr: ErrMissingUser,
		},
		{
			name: "partially_resolved_typings",
			seed: func() []ledger.Record {
				resolved := typingOf("m1", "u2", 1, 0)
				resolved.Status = ledger.TypingCorrect

				return []ledger.Record{
					finishedMatch("m1", "100.00", intPtr(1), intPtr(0)),
					typingOf("m1", "u1", 1, 0), resolved,
					user("u1", "10.00"), user("u2", "10.00"),
					&ledger.PoolRecord{Date: nextDate},
				}
			}(),
			wantErr: ErrInconsistentTyping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, Config{CarryResidual: true}, tt.seed...)

			res, err := f.svc.Settle(t.Context(), "m1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}

			var serr *Error
			if !errors.As(err, &serr) || serr.State != StateAborted || res.State != StateAborted {
				t.Fatalf("want aborted state, got %v / %s", err, res.State)
			}

			u := f.user(t, "u1")
			if !u.Balance.Equal(dec("10.00")) {
				t.Fatalf("balance changed on abort: %s", u.Balance)
			}

			if tt.wantErr != ErrMatchNotFound && f.match(t, "m1").Version != 1 {
				t.Fatalf("match written on abort")
			}
		})
	}
}

func TestSettle_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CarryResidual: true}, scenarioA()...)

	first, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}

	second, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}

	f.wait(t)

	if second.Outcome != OutcomeAlreadySettled || len(second.Payouts) != 0 {
		t.Fatalf("replay outcome: %+v", second)
	}

	if u := f.user(t, "u1"); !u.Balance.Equal(dec("60.00")) || u.CorrectTypingsCount != 1 {
		t.Fatalf("replay re-credited winner: %s / %d", u.Balance, u.CorrectTypingsCount)
	}

	m, err := f.match(t, "m1").Match()
	if err != nil {
		t.Fatalf("decode match: %v", err)
	}

	if m.SettlementID != first.SettlementID {
		t.Fatalf("settlement marker replaced: %s != %s", m.SettlementID, first.SettlementID)
	}

	if got := testutil.ToFloat64(f.metrics.SettlementsTotal.WithLabelValues(string(OutcomeAlreadySettled))); got != 1 {
		t.Fatalf("already settled metric: %v", got)
	}
}

func TestSettle_DrainedMatchWithoutMarkerIsNoOp(t *testing.T) {
	t.Parallel()

	won := typingOf("m1", "u1", 1, 0)
	won.Status = ledger.TypingCorrect
	lost := typingOf("m1", "u2", 0, 0)
	lost.Status = ledger.TypingIncorrect

	f := newFixture(t, Config{},
		finishedMatch("m1", "0", intPtr(1), intPtr(0)),
		won, lost,
		user("u1", "60.00"), user("u2", "10.00"),
	)

	res, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if res.Outcome != OutcomeAlreadySettled {
		t.Fatalf("want already settled, got %s", res.Outcome)
	}

	if u := f.user(t, "u1"); !u.Balance.Equal(dec("60.00")) {
		t.Fatalf("balance changed: %s", u.Balance)
	}
}

func TestSettle_Residual(t *testing.T) {
	t.Parallel()

	seed := func(withPool bool) []ledger.Record {
		recs := []ledger.Record{
			finishedMatch("m1", "100.00", intPtr(1), intPtr(1)),
			typingOf("m1", "u1", 1, 1), typingOf("m1", "u2", 1, 1), typingOf("m1", "u3", 1, 1),
			user("u1", "0"), user("u2", "0"), user("u3", "0"),
		}
		if withPool {
			recs = append(recs, &ledger.PoolRecord{Date: nextDate, Balance: dec("1.00")})
		}

		return recs
	}

	t.Run("carried_into_next_period", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, Config{CarryResidual: true}, seed(true)...)

		res, err := f.svc.Settle(t.Context(), "m1")
		if err != nil {
			t.Fatalf("settle: %v", err)
		}

		if !res.PerWinner.Equal(dec("33.33")) || !res.Residual.Equal(dec("0.01")) || !res.RolledOver.Equal(dec("0.01")) {
			t.Fatalf("unexpected split: %+v", res)
		}

		if bal := f.poolBalance(t, nextDate); !bal.Equal(dec("1.01")) {
			t.Fatalf("next pool: want 1.01, got %s", bal)
		}

		if got := testutil.ToFloat64(f.metrics.RolloverAmountTotal); got != 0 {
			t.Fatalf("residual counted as rollover: %v", got)
		}

		if got := testutil.ToFloat64(f.metrics.ResidualAmountTotal); got != 0.01 {
			t.Fatalf("residual amount metric: %v", got)
		}

		total := decimal.Zero
		for _, id := range []string{"u1", "u2", "u3"} {
			total = total.Add(f.user(t, id).Balance)
		}

		if !total.Add(dec("0.01")).Equal(dec("100.00")) {
			t.Fatalf("conservation broken: payouts %s", total)
		}
	})

	t.Run("absorbed_when_disabled", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, Config{CarryResidual: false}, seed(false)...)

		res, err := f.svc.Settle(t.Context(), "m1")
		if err != nil {
			t.Fatalf("settle: %v", err)
		}

		if !res.Residual.Equal(dec("0.01")) || !res.RolledOver.IsZero() {
			t.Fatalf("unexpected split: %+v", res)
		}

		if u := f.user(t, "u2"); !u.Balance.Equal(dec("33.33")) {
			t.Fatalf("winner balance: %s", u.Balance)
		}
	})
}

// cancelingStore rejects every transaction as a conflicting write would.
type cancelingStore struct {
	ledger.Store
}

func (s cancelingStore) TransactWrite(_ context.Context, writes []ledger.Write) error {
	return &ledger.TransactionCanceledError{Reasons: []ledger.CancellationReason{
		{Key: writes[0].Record.Key(), Code: ledger.CodeConditionalCheckFailed},
	}}
}

func TestSettle_CommitFailed(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	if err := mem.Seed(scenarioA()...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := newFixtureOn(t, mem, cancelingStore{Store: mem}, Config{CarryResidual: true})

	res, err := f.svc.Settle(t.Context(), "m1")
	if !errors.Is(err, ErrCommitFailed) || !errors.Is(err, ledger.ErrTransactionCanceled) {
		t.Fatalf("want commit failure, got %v", err)
	}

	var serr *Error
	if !errors.As(err, &serr) || serr.State != StateCommitFailed || res.State != StateCommitFailed {
		t.Fatalf("want commit_failed state, got %v", err)
	}

	f.wait(t)

	if len(f.notifier.called()) != 0 {
		t.Fatalf("notifications sent for failed commit")
	}

	if u := f.user(t, "u1"); !u.Balance.Equal(dec("10.00")) {
		t.Fatalf("balance changed: %s", u.Balance)
	}

	if got := testutil.ToFloat64(f.metrics.CommitFailures); got != 1 {
		t.Fatalf("commit failure metric: %v", got)
	}
}

func TestSettle_WriteSetTooLarge(t *testing.T) {
	t.Parallel()

	mem := memory.New(memory.WithMaxItems(4))
	if err := mem.Seed(scenarioA()...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := newFixtureOn(t, mem, mem, Config{})

	_, err := f.svc.Settle(t.Context(), "m1")
	if !errors.Is(err, ErrCommitFailed) || !errors.Is(err, ledger.ErrInvalidTransaction) {
		t.Fatalf("want commit failure from size limit, got %v", err)
	}

	if m := f.match(t, "m1"); m.Version != 1 {
		t.Fatalf("partial write: match version %d", m.Version)
	}
}

// racingStore settles another match right before the first commit,
// so both settlements read the same version of the shared pool record.
type racingStore struct {
	*memory.Store
	started atomic.Bool
	race    func() error
	raced   error
}

func (s *racingStore) TransactWrite(ctx context.Context, writes []ledger.Write) error {
	if s.started.CompareAndSwap(false, true) {
		s.raced = s.race()
	}

	return s.Store.TransactWrite(ctx, writes)
}

func TestSettle_ConcurrentRolloverIntoSamePeriod(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	err := mem.Seed(
		finishedMatch("m1", "100.00", intPtr(1), intPtr(0)), typingOf("m1", "u1", 0, 0),
		finishedMatch("m2", "40.00", intPtr(2), intPtr(2)), typingOf("m2", "u1", 0, 0),
		user("u1", "10.00"),
		&ledger.PoolRecord{Date: nextDate, Balance: dec("0")},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rs := &racingStore{Store: mem}
	f := newFixtureOn(t, mem, rs, Config{})
	rs.race = func() error {
		_, err := f.svc.Settle(t.Context(), "m2")
		return err
	}

	_, err = f.svc.Settle(t.Context(), "m1")
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("stale pool version should fail the commit, got %v", err)
	}

	if rs.raced != nil {
		t.Fatalf("racing settlement: %v", rs.raced)
	}

	// Redelivery re-runs the read phase and succeeds.
	_, err = f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}

	if bal := f.poolBalance(t, nextDate); !bal.Equal(dec("140.00")) {
		t.Fatalf("lost update: want 140.00, got %s", bal)
	}
}

func TestSettle_ParallelRolloversConserveMoney(t *testing.T) {
	t.Parallel()

	const matches = 16

	seed := []ledger.Record{user("u1", "0"), &ledger.PoolRecord{Date: nextDate, Balance: dec("0")}}
	for i := range matches {
		id := fmt.Sprintf("m%02d", i)
		seed = append(seed, finishedMatch(id, "10.25", intPtr(1), intPtr(0)), typingOf(id, "u1", 0, 1))
	}

	f := newFixture(t, Config{}, seed...)

	var wg sync.WaitGroup
	errCh := make(chan error, matches)

	for i := range matches {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			for attempt := 0; attempt < 100; attempt++ {
				_, err := f.svc.Settle(context.Background(), id)
				if err == nil {
					return
				}

				if !errors.Is(err, ErrCommitFailed) {
					errCh <- err
					return
				}
			}

			errCh <- fmt.Errorf("%s: retries exhausted", id)
		}(fmt.Sprintf("m%02d", i))
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("settle: %v", err)
	}

	want := dec("10.25").Mul(decimal.NewFromInt(matches))
	if bal := f.poolBalance(t, nextDate); !bal.Equal(want) {
		t.Fatalf("next pool: want %s, got %s", want, bal)
	}
}

func TestSettle_NotificationFailureIsIsolated(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	if err := mem.Seed(scenarioA()...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	failing := newRecordingDispatcher("u1")
	f := newFixtureOn(t, mem, mem, Config{}, WithDispatcher(failing))

	res, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("settle must not fail on notification errors: %v", err)
	}

	f.wait(t)

	calls := failing.called()
	if _, ok := calls["u4"]; !ok || len(calls) != 2 {
		t.Fatalf("every winner must be attempted: %+v", calls)
	}

	if res.State != StateCommitted {
		t.Fatalf("state: %s", res.State)
	}

	if got := testutil.ToFloat64(f.metrics.NotificationFailures); got != 1 {
		t.Fatalf("notification failures metric: %v", got)
	}

	if got := testutil.ToFloat64(f.metrics.NotificationsSent); got != 1 {
		t.Fatalf("notifications sent metric: %v", got)
	}
}

func TestSettle_EmptyPoolWinnersAreNotAnnounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CarryResidual: true},
		finishedMatch("m1", "0", intPtr(2), intPtr(1)),
		typingOf("m1", "u1", 2, 1),
		typingOf("m1", "u2", 0, 0),
		user("u1", "10.00"), user("u2", "10.00"),
	)

	res, err := f.svc.Settle(t.Context(), "m1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	f.wait(t)

	if res.Outcome != OutcomeAllocated || !res.PerWinner.IsZero() || len(res.Payouts) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	u := f.user(t, "u1")
	if !u.Balance.Equal(dec("10.00")) || u.CorrectTypingsCount != 1 {
		t.Fatalf("winner: balance %s count %d", u.Balance, u.CorrectTypingsCount)
	}

	_, err = f.store.Get(t.Context(), ledger.MessageKey("u1", "m1"))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("zero win must not leave a message: %v", err)
	}

	if calls := f.notifier.called(); len(calls) != 0 {
		t.Fatalf("zero win must not be notified: %+v", calls)
	}

	if got := f.typingStatuses(t, "m1")["u1"]; got != ledger.TypingCorrect {
		t.Fatalf("typing u1: %s", got)
	}
}

func TestSettle_WaitDuringSettlements(t *testing.T) {
	t.Parallel()

	const matches = 100

	var seed []ledger.Record
	for i := range matches {
		id := fmt.Sprintf("m%03d", i)
		uid := fmt.Sprintf("u%03d", i)
		seed = append(seed, finishedMatch(id, "1.00", intPtr(1), intPtr(0)), typingOf(id, uid, 1, 0), user(uid, "0"))
	}

	f := newFixture(t, Config{}, seed...)

	stop := make(chan struct{})

	var waiters sync.WaitGroup
	for range 4 {
		waiters.Add(1)

		go func() {
			defer waiters.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
				_ = f.svc.Wait(ctx)
				cancel()
			}
		}()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, matches)

	for i := range matches {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			_, err := f.svc.Settle(context.Background(), id)
			if err != nil {
				errCh <- err
			}
		}(fmt.Sprintf("m%03d", i))
	}

	wg.Wait()
	close(stop)
	waiters.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("settle: %v", err)
	}

	f.wait(t)

	if got := testutil.ToFloat64(f.metrics.NotificationsSent); got != matches {
		t.Fatalf("notifications sent: want %d, got %v", matches, got)
	}
}
