package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

type BalanceService struct {
	store ledger.Store
}

func New(store ledger.Store) *BalanceService {
	return &BalanceService{store: store}
}

// GetBalance returns the user's current balance (plain read, no condition).
func (s *BalanceService) GetBalance(ctx context.Context, userID string) (UserSnapshot, error) {
	it, err := s.store.Get(ctx, ledger.UserKey(userID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return UserSnapshot{}, fmt.Errorf("get balance %s: %w", userID, ErrUserNotFound)
		}

		return UserSnapshot{}, fmt.Errorf("get balance: %w", err)
	}

	u, err := it.User()
	if err != nil {
		return UserSnapshot{}, fmt.Errorf("get balance: %w", err)
	}

	return UserSnapshot{
		UserID:              u.ID,
		Balance:             u.Balance,
		CorrectTypingsCount: u.CorrectTypingsCount,
	}, nil
}

// Messages lists the win messages stored for a user, ordered by match id.
func (s *BalanceService) Messages(ctx context.Context, userID string) ([]ledger.Message, error) {
	_, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.Query(ctx, ledger.Query{
		Index:      ledger.IndexPrimary,
		Value:      userID,
		RecordType: ledger.RecordMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]ledger.Message, 0, len(items))
	for _, it := range items {
		m, err := it.Message()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		out = append(out, *m)
	}

	return out, nil
}
