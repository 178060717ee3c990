package settlement

import (
	"errors"
	"testing"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
	"github.com/shopspring/decimal"
)

func TestRollover(t *testing.T) {
	t.Parallel()

	next := &ledger.PoolRecord{Date: "2026-06-02", Balance: decimal.RequireFromString("12.50")}

	got, err := Rollover(decimal.RequireFromString("100.00"), next)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}

	if !got.Balance.Equal(decimal.RequireFromString("112.50")) {
		t.Fatalf("balance: want 112.50, got %s", got.Balance)
	}

	if !next.Balance.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("input record mutated: %s", next.Balance)
	}

	_, err = Rollover(decimal.RequireFromString("1.00"), nil)
	if !errors.Is(err, ErrMissingPeriod) {
		t.Fatalf("want ErrMissingPeriod, got %v", err)
	}

	_, err = Rollover(decimal.RequireFromString("-1.00"), next)
	if !errors.Is(err, ErrNegativePool) {
		t.Fatalf("want ErrNegativePool, got %v", err)
	}
}

func TestNextPeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2026-06-01", want: "2026-06-02"},
		{in: "2026-06-30", want: "2026-07-01"},
		{in: "2026-12-31", want: "2027-01-01"},
		{in: "2028-02-28", want: "2028-02-29"},
		{in: "01/06/2026", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NextPeriod(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("NextPeriod(%q): expected error, got %q", tt.in, got)
			}

			continue
		}

		if err != nil {
			t.Fatalf("NextPeriod(%q): %v", tt.in, err)
		}

		if got != tt.want {
			t.Fatalf("NextPeriod(%q): want %s, got %s", tt.in, tt.want, got)
		}
	}
}
