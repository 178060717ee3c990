package balance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
	"github.com/fastprodman/typingpool/internal/repos/ledger/memory"
)

func seeded(t *testing.T, recs ...ledger.Record) *BalanceService {
	t.Helper()

	store := memory.New()

	err := store.Seed(recs...)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	return New(store)
}

func TestGetBalance(t *testing.T) {
	t.Parallel()

	svc := seeded(t, &ledger.User{ID: "u1", Balance: decimal.RequireFromString("12.34"), CorrectTypingsCount: 3})

	tests := []struct {
		name    string
		userID  string
		want    string
		wantErr error
	}{
		{name: "existing_user", userID: "u1", want: "12.34"},
		{name: "unknown_user", userID: "u404", wantErr: ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := svc.GetBalance(t.Context(), tt.userID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("get balance: %v", err)
			}

			if got.Balance.StringFixed(2) != tt.want || got.CorrectTypingsCount != 3 {
				t.Fatalf("unexpected snapshot: %+v", got)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	svc := seeded(t,
		&ledger.User{ID: "u1"},
		&ledger.User{ID: "u2"},
		&ledger.Message{UserID: "u1", MatchID: "m2", Amount: decimal.NewFromInt(5)},
		&ledger.Message{UserID: "u1", MatchID: "m1", Amount: decimal.NewFromInt(7)},
		&ledger.Message{UserID: "u2", MatchID: "m1", Amount: decimal.NewFromInt(7)},
	)

	got, err := svc.Messages(t.Context(), "u1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}

	if len(got) != 2 || got[0].MatchID != "m1" || got[1].MatchID != "m2" {
		t.Fatalf("unexpected messages: %+v", got)
	}

	_, err = svc.Messages(t.Context(), "u404")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
}
