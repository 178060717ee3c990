package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/typingpool/internal/infra/logging"
	"github.com/fastprodman/typingpool/internal/infra/metrics"
	"github.com/fastprodman/typingpool/internal/notify"
	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

// Outcome summarizes what a settlement did.
type Outcome string

const (
	OutcomeAllocated      Outcome = "allocated"
	OutcomeRolledOver     Outcome = "rolled_over"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeAborted        Outcome = "aborted"
	OutcomeCommitFailed   Outcome = "commit_failed"
)

type Config struct {
	// CarryResidual folds the rounding residual of a win into the next period pool
	// in the same transaction. When false the residual is absorbed by zeroing the match pool.
	CarryResidual bool
	// NotifyTimeout bounds the delivery of all notifications of one settlement.
	NotifyTimeout time.Duration
}

type Payout struct {
	UserID   string
	Amount   decimal.Decimal
	Endpoint string
	Message  ledger.Message
}

type Result struct {
	SettlementID string
	MatchID      string
	Outcome      Outcome
	State        State
	Pool         decimal.Decimal
	PerWinner    decimal.Decimal
	Residual     decimal.Decimal
	// RolledOver is the amount added to NextPeriod's pool record.
	RolledOver decimal.Decimal
	NextPeriod string
	Payouts    []Payout
	Incorrect  int
}

// Service settles finished matches against a ledger.Store.
// Settlements of different matches may run concurrently; the store's
// conditional transaction is the only coordination between them.
type Service struct {
	store    ledger.Store
	cfg      Config
	notifier notify.Dispatcher
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	inflight inflight
}

type Option func(*Service)

func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) { s.notifier = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store ledger.Store, cfg Config, opts ...Option) *Service {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}

	s := &Service{
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}

	s.log = logging.Component(s.log, "settlement")

	return s
}

// plan is the full write-set of one settlement plus what it means.
type plan struct {
	writes  []ledger.Write
	payouts []Payout
}

// Settle resolves the typings of a finished match and redistributes its pool
// in a single conditional transaction.
//
// Re-settling a match that already carries a settlement marker is a no-op
// reported as OutcomeAlreadySettled. Notifications are delivered after commit
// and never affect the returned error; use Wait to drain them.
func (s *Service) Settle(ctx context.Context, matchID string) (Result, error) {
	started := time.Now()

	res := Result{
		SettlementID: uuid.NewString(),
		MatchID:      matchID,
		State:        StateStart,
	}
	log := s.log.With("match_id", matchID, "settlement_id", res.SettlementID)

	p, err := s.plan(ctx, &res, log)
	if err != nil {
		res.State = StateAborted
		res.Outcome = OutcomeAborted
		s.metrics.ObserveSettlement(string(res.Outcome), started)
		log.Warn("settlement aborted", "error", err)

		return res, &Error{State: StateAborted, Err: err}
	}

	if p == nil {
		res.Outcome = OutcomeAlreadySettled
		s.metrics.ObserveSettlement(string(res.Outcome), started)
		log.Info("match already settled")

		return res, nil
	}

	err = s.store.TransactWrite(ctx, p.writes)
	if err != nil {
		res.State = StateCommitFailed
		res.Outcome = OutcomeCommitFailed
		s.metrics.CommitFailures.Inc()
		s.metrics.ObserveSettlement(string(res.Outcome), started)
		log.Warn("settlement commit failed", "error", err, "items", len(p.writes))

		return res, &Error{State: StateCommitFailed, Err: fmt.Errorf("%w: %w", ErrCommitFailed, err)}
	}

	res.State = StateCommitted
	res.Payouts = p.payouts

	s.metrics.ObserveSettlement(string(res.Outcome), started)
	metrics.AddAmount(s.metrics.PayoutAmountTotal, res.PerWinner.Mul(decimal.NewFromInt(int64(len(res.Payouts)))))
	if res.Outcome == OutcomeRolledOver {
		metrics.AddAmount(s.metrics.RolloverAmountTotal, res.RolledOver)
	}
	metrics.AddAmount(s.metrics.ResidualAmountTotal, res.Residual)

	log.Info("settlement committed",
		"outcome", res.Outcome,
		"pool", res.Pool.StringFixed(CurrencyPlaces),
		"winners", len(res.Payouts),
		"per_winner", res.PerWinner.StringFixed(CurrencyPlaces),
		"residual", res.Residual.String(),
		"rolled_over", res.RolledOver.StringFixed(CurrencyPlaces),
	)

	s.dispatch(log, res.Payouts)

	return res, nil
}

// plan runs the read phase and builds the write-set. A nil plan without error
// means there is nothing left to settle.
//
//nolint:cyclop,funlen
func (s *Service) plan(ctx context.Context, res *Result, log *slog.Logger) (*plan, error) {
	matchItem, err := s.store.Get(ctx, ledger.MatchKey(res.MatchID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, res.MatchID)
		}

		return nil, fmt.Errorf("load match: %w", err)
	}

	match, err := matchItem.Match()
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}

	if match.Settled() {
		return nil, nil
	}

	if match.Status != ledger.MatchFinished {
		return nil, fmt.Errorf("%w: match %s is %s", ErrIncompleteResult, match.ID, match.Status)
	}

	if match.HomeScore == nil || match.AwayScore == nil {
		return nil, fmt.Errorf("%w: match %s has no final score", ErrIncompleteResult, match.ID)
	}

	if match.Pool.IsNegative() {
		return nil, fmt.Errorf("%w: match %s pool %s", ErrNegativePool, match.ID, match.Pool)
	}

	typingItems, err := s.store.Query(ctx, ledger.Query{
		Index:      ledger.IndexPrimary,
		Value:      match.ID,
		RecordType: ledger.RecordTyping,
	})
	if err != nil {
		return nil, fmt.Errorf("load typings: %w", err)
	}

	typings := make([]*ledger.Typing, 0, len(typingItems))
	versions := make(map[ledger.Key]ledger.Item, len(typingItems))
	unresolved := 0

	for _, it := range typingItems {
		t, err := it.Typing()
		if err != nil {
			return nil, fmt.Errorf("load typings: %w", err)
		}

		if t.Status == ledger.TypingUnknown || t.Status == "" {
			unresolved++
		}

		typings = append(typings, t)
		versions[t.Key()] = it
	}

	// Data settled without a marker: pool drained and every typing resolved.
	if len(typings) > 0 && unresolved == 0 && match.Pool.IsZero() {
		return nil, nil
	}

	if unresolved != len(typings) {
		return nil, fmt.Errorf("%w: %d of %d typings of match %s", ErrInconsistentTyping,
			len(typings)-unresolved, len(typings), match.ID)
	}

	correct, incorrect, err := Resolve(match, typings)
	if err != nil {
		return nil, err
	}

	res.State = StateResolved
	res.Pool = match.Pool
	res.Incorrect = len(incorrect)
	log.Debug("typings resolved", "correct", len(correct), "incorrect", len(incorrect))

	res.NextPeriod, err = NextPeriod(match.Date)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", match.ID, err)
	}

	settledAt := s.now().UTC()
	settled := *match
	settled.Pool = decimal.Zero
	settled.CorrectTypingsCount = len(correct)
	settled.SettlementID = res.SettlementID
	settled.SettledAt = &settledAt

	p := &plan{
		writes: []ledger.Write{ledger.Update(matchItem, &settled)},
	}

	for _, t := range incorrect {
		p.writes = append(p.writes, resolvedWrite(versions[t.Key()], t, ledger.TypingIncorrect))
	}

	for _, t := range correct {
		p.writes = append(p.writes, resolvedWrite(versions[t.Key()], t, ledger.TypingCorrect))
	}

	if len(correct) == 0 {
		w, err := s.rolloverWrite(ctx, res.NextPeriod, match.Pool)
		if err != nil {
			return nil, err
		}

		p.writes = append(p.writes, w)
		res.RolledOver = match.Pool
		res.Outcome = OutcomeRolledOver
		res.State = StateRolledOver
		log.Debug("pool rolled over", "next_period", res.NextPeriod)

		return p, nil
	}

	perWinner, residual, err := Allocate(match.Pool, len(correct))
	if err != nil {
		return nil, err
	}

	res.PerWinner = perWinner
	res.Residual = residual

	for _, t := range correct {
		userItem, err := s.store.Get(ctx, ledger.UserKey(t.UserID))
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrMissingUser, t.UserID)
			}

			return nil, fmt.Errorf("load winner %s: %w", t.UserID, err)
		}

		user, err := userItem.User()
		if err != nil {
			return nil, fmt.Errorf("load winner %s: %w", t.UserID, err)
		}

		credited := *user
		credited.Balance = user.Balance.Add(perWinner)
		credited.CorrectTypingsCount++

		p.writes = append(p.writes, ledger.Update(userItem, &credited))

		payout := Payout{UserID: t.UserID, Amount: perWinner, Endpoint: user.NotificationEndpoint}

		// An empty pool credits nothing, so there is no win to announce.
		if perWinner.IsPositive() {
			payout.Message = winMessage(match, t.UserID, perWinner, settledAt)
			p.writes = append(p.writes, ledger.Put(&payout.Message))
		}

		p.payouts = append(p.payouts, payout)
	}

	if s.cfg.CarryResidual && residual.IsPositive() {
		w, err := s.rolloverWrite(ctx, res.NextPeriod, residual)
		if err != nil {
			return nil, err
		}

		p.writes = append(p.writes, w)
		res.RolledOver = residual
	}

	res.Outcome = OutcomeAllocated
	res.State = StateAllocated
	log.Debug("pool allocated", "winners", len(correct), "per_winner", perWinner.String())

	return p, nil
}

// rolloverWrite loads the pool record of period and returns the conditional
// write adding amount to it.
func (s *Service) rolloverWrite(ctx context.Context, period string, amount decimal.Decimal) (ledger.Write, error) {
	poolItem, err := s.store.Get(ctx, ledger.PoolKey(period))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Write{}, fmt.Errorf("%w: %s", ErrMissingPeriod, period)
		}

		return ledger.Write{}, fmt.Errorf("load period %s: %w", period, err)
	}

	next, err := poolItem.Pool()
	if err != nil {
		return ledger.Write{}, fmt.Errorf("load period %s: %w", period, err)
	}

	updated, err := Rollover(amount, next)
	if err != nil {
		return ledger.Write{}, err
	}

	return ledger.Update(poolItem, updated), nil
}

func resolvedWrite(it ledger.Item, t *ledger.Typing, status ledger.TypingStatus) ledger.Write {
	resolved := *t
	resolved.Status = status

	return ledger.Update(it, &resolved)
}

func winMessage(m *ledger.Match, userID string, amount decimal.Decimal, at time.Time) ledger.Message {
	return ledger.Message{
		UserID:  userID,
		MatchID: m.ID,
		Date:    m.Date,
		Title:   "Your typing was correct!",
		Body: fmt.Sprintf("%s %d:%d %s - you won %s",
			m.HomeTeam, *m.HomeScore, *m.AwayScore, m.AwayTeam, amount.StringFixed(CurrencyPlaces)),
		Amount:    amount,
		CreatedAt: at,
	}
}
