// Package pools owns the creation of period pool records that settlements
// roll money into.
package pools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

var (
	ErrInvalidDate  = errors.New("invalid period date")
	ErrPoolNotFound = errors.New("period pool not found")
)

type Service struct {
	store ledger.Store
}

func New(store ledger.Store) *Service {
	return &Service{store: store}
}

// EnsurePeriod creates a zero-balance pool record for date unless one exists.
// created reports whether this call created it.
func (s *Service) EnsurePeriod(ctx context.Context, date string) (pool *ledger.PoolRecord, created bool, err error) {
	_, err = time.Parse(ledger.DateLayout, date)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	rec := &ledger.PoolRecord{Date: date}

	err = s.store.TransactWrite(ctx, []ledger.Write{ledger.Put(rec)})
	if err == nil {
		return rec, true, nil
	}

	if !errors.Is(err, ledger.ErrTransactionCanceled) {
		return nil, false, fmt.Errorf("ensure period %s: %w", date, err)
	}

	pool, err = s.GetPeriod(ctx, date)
	if err != nil {
		return nil, false, err
	}

	return pool, false, nil
}

func (s *Service) GetPeriod(ctx context.Context, date string) (*ledger.PoolRecord, error) {
	it, err := s.store.Get(ctx, ledger.PoolKey(date))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, date)
		}

		return nil, fmt.Errorf("get period %s: %w", date, err)
	}

	return it.Pool()
}
