package settlement

import (
	"fmt"
	"time"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
	"github.com/shopspring/decimal"
)

// Rollover returns next with amount merged into its balance. next is not modified.
func Rollover(amount decimal.Decimal, next *ledger.PoolRecord) (*ledger.PoolRecord, error) {
	if next == nil {
		return nil, ErrMissingPeriod
	}

	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativePool, amount)
	}

	updated := *next
	updated.Balance = next.Balance.Add(amount)

	return &updated, nil
}

// NextPeriod returns the calendar day following date.
func NextPeriod(date string) (string, error) {
	d, err := time.Parse(ledger.DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse period %q: %w", date, err)
	}

	return d.AddDate(0, 0, 1).Format(ledger.DateLayout), nil
}
