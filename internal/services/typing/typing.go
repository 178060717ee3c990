// Package typing places score predictions on scheduled matches.
package typing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/typingpool/internal/infra/logging"
	"github.com/fastprodman/typingpool/internal/infra/metrics"
	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

const maxAttempts = 3

type Config struct {
	// Stake is debited from the user and credited to the match pool.
	Stake decimal.Decimal
}

type Request struct {
	MatchID string
	UserID  string
	Home    int
	Away    int
}

type Service struct {
	store   ledger.Store
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

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

func New(store ledger.Store, cfg Config, opts ...Option) (*Service, error) {
	if cfg.Stake.IsNegative() {
		return nil, fmt.Errorf("typing stake must not be negative: %s", cfg.Stake)
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

	s.log = logging.Component(s.log, "typing")

	return s, nil
}

// PlaceTyping records a typing, moves the stake from the user to the match pool and
// returns the stored typing. The three writes commit together or not at all.
func (s *Service) PlaceTyping(ctx context.Context, req Request) (*ledger.Typing, error) {
	t, err := s.place(ctx, req)
	if err != nil {
		s.metrics.TypingsRejected.WithLabelValues(reason(err)).Inc()
		s.log.Info("typing rejected", "match_id", req.MatchID, "user_id", req.UserID, "error", err)

		return nil, err
	}

	s.metrics.TypingsPlaced.Inc()
	s.log.Debug("typing placed", "match_id", req.MatchID, "user_id", req.UserID)

	return t, nil
}

func (s *Service) place(ctx context.Context, req Request) (*ledger.Typing, error) {
	if req.Home < 0 || req.Away < 0 {
		return nil, fmt.Errorf("%w: %d:%d", ErrInvalidScore, req.Home, req.Away)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		writes, t, err := s.build(ctx, req)
		if err != nil {
			return nil, err
		}

		err = s.store.TransactWrite(ctx, writes)
		if err == nil {
			return t, nil
		}

		var canceled *ledger.TransactionCanceledError
		if !errors.As(err, &canceled) {
			return nil, fmt.Errorf("place typing: %w", err)
		}

		if canceled.Failed(t.Key()) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateTyping, req.MatchID, req.UserID)
		}

		s.log.Debug("typing write conflicted, retrying", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("%w: placing typing on %s", ErrConflict, req.MatchID)
}

// build reads the match and user and returns the conditional write-set.
func (s *Service) build(ctx context.Context, req Request) ([]ledger.Write, *ledger.Typing, error) {
	matchItem, err := s.store.Get(ctx, ledger.MatchKey(req.MatchID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrMatchNotFound, req.MatchID)
		}

		return nil, nil, fmt.Errorf("load match: %w", err)
	}

	match, err := matchItem.Match()
	if err != nil {
		return nil, nil, fmt.Errorf("load match: %w", err)
	}

	now := s.now().UTC()
	if match.Status != ledger.MatchScheduled || !now.Before(match.StartTime) {
		return nil, nil, fmt.Errorf("%w: %s kicked off at %s", ErrMatchStarted, match.ID, match.StartTime.Format(time.RFC3339))
	}

	_, err = s.store.Get(ctx, ledger.TypingKey(req.MatchID, req.UserID))
	switch {
	case err == nil:
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrDuplicateTyping, req.MatchID, req.UserID)
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, nil, fmt.Errorf("load typing: %w", err)
	}

	userItem, err := s.store.Get(ctx, ledger.UserKey(req.UserID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
		}

		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	user, err := userItem.User()
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	if user.Balance.LessThan(s.cfg.Stake) {
		return nil, nil, fmt.Errorf("%w: balance %s, stake %s", ErrInsufficientFunds, user.Balance, s.cfg.Stake)
	}

	t := &ledger.Typing{
		MatchID:            req.MatchID,
		UserID:             req.UserID,
		PredictedHomeScore: req.Home,
		PredictedAwayScore: req.Away,
		Status:             ledger.TypingUnknown,
		CreatedAt:          now,
	}

	staked := *match
	staked.Pool = match.Pool.Add(s.cfg.Stake)

	debited := *user
	debited.Balance = user.Balance.Sub(s.cfg.Stake)

	return []ledger.Write{
		ledger.Put(t),
		ledger.Update(matchItem, &staked),
		ledger.Update(userItem, &debited),
	}, t, nil
}
