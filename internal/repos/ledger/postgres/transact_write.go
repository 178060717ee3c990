package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/typingpool/internal/infra/pgutils"
	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

// TransactWrite applies all writes in one database transaction.
//
// Every precondition is evaluated, so a cancellation reports all failing items.
// Version checks live in the UPDATE predicate: a concurrent writer that commits
// first makes the row re-check fail instead of being overwritten.
func (r *ledgerRepo) TransactWrite(ctx context.Context, writes []ledger.Write) error {
	err := ledger.ValidateWrites(writes, r.maxItems)
	if err != nil {
		return fmt.Errorf("transact write: %w", err)
	}

	err = pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var reasons []ledger.CancellationReason

		for _, w := range writes {
			applied, err := applyWrite(ctx, tx, w)
			if err != nil {
				return err
			}

			if !applied {
				reasons = append(reasons, ledger.CancellationReason{
					Key:  w.Record.Key(),
					Code: ledger.CodeConditionalCheckFailed,
				})
			}
		}

		if len(reasons) > 0 {
			return &ledger.TransactionCanceledError{Reasons: reasons}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("transact write: %w", err)
	}

	return nil
}

func applyWrite(ctx context.Context, tx *sql.Tx, w ledger.Write) (bool, error) {
	data, err := ledger.Encode(w.Record)
	if err != nil {
		return false, err
	}

	key := w.Record.Key()

	var res sql.Result
	if w.ExpectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_items (pk, sk, record_type, item_date, version, data)
			VALUES ($1, $2, $3, $4, 1, $5::jsonb)
			ON CONFLICT (pk, sk) DO NOTHING
		`, key.PK, key.SK, string(w.Record.RecordType()), nullableDate(w.Record.IndexDate()), string(data))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE ledger_items
			SET record_type = $3,
			    item_date = $4,
			    data = $5::jsonb,
			    version = version + 1,
			    updated_at = now()
			WHERE pk = $1 AND sk = $2 AND version = $6
		`, key.PK, key.SK, string(w.Record.RecordType()), nullableDate(w.Record.IndexDate()), string(data), w.ExpectedVersion)
	}

	if err != nil {
		return false, fmt.Errorf("write %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}
