package ledger

import (
	"context"
	"fmt"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

var indexColumns = map[ledger.Index]string{
	ledger.IndexPrimary:    "pk",
	ledger.IndexSecondary:  "sk",
	ledger.IndexDate:       "item_date",
	ledger.IndexRecordType: "record_type",
}

func (r *ledgerRepo) Query(ctx context.Context, q ledger.Query) ([]ledger.Item, error) {
	col, ok := indexColumns[q.Index]
	if !ok {
		return nil, fmt.Errorf("query: unknown index %q", q.Index)
	}

	stmt := `SELECT record_type, version, data FROM ledger_items WHERE ` + col + ` = $1`
	args := []any{q.Value}

	if q.RecordType != "" {
		stmt += ` AND record_type = $2`
		args = append(args, string(q.RecordType))
	}

	stmt += ` ORDER BY pk, sk`

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s=%s: %w", q.Index, q.Value, err)
	}
	//nolint:errcheck
	defer rows.Close()

	var out []ledger.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		out = append(out, it)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}
