package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

func (r *ledgerRepo) Get(ctx context.Context, key ledger.Key) (ledger.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT record_type, version, data
		FROM ledger_items
		WHERE pk = $1 AND sk = $2
	`, key.PK, key.SK)

	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Item{}, fmt.Errorf("get %s: %w", key, ledger.ErrNotFound)
		}

		return ledger.Item{}, fmt.Errorf("get %s: %w", key, err)
	}

	return it, nil
}
