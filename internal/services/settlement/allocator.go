package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the precision of every stored amount.
const CurrencyPlaces = 2

// Allocate splits pool equally among winnerCount winners.
//
// The share is truncated to CurrencyPlaces so that
// perWinner*winnerCount + residual == pool and 0 <= residual < 0.01*winnerCount.
func Allocate(pool decimal.Decimal, winnerCount int) (perWinner, residual decimal.Decimal, err error) {
	if winnerCount <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: got %d", ErrNoWinners, winnerCount)
	}

	if pool.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", ErrNegativePool, pool)
	}

	perWinner, residual = pool.QuoRem(decimal.NewFromInt(int64(winnerCount)), CurrencyPlaces)

	return perWinner, residual, nil
}
