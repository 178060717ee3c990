package ledger

import (
	"database/sql"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

var _ ledger.Store = (*ledgerRepo)(nil)

type ledgerRepo struct {
	db       *sql.DB
	maxItems int
}

func New(db *sql.DB, maxItems int) *ledgerRepo {
	if maxItems <= 0 {
		maxItems = ledger.DefaultMaxItems
	}

	return &ledgerRepo{db: db, maxItems: maxItems}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (ledger.Item, error) {
	var (
		recordType string
		version    int64
		data       []byte
	)

	err := row.Scan(&recordType, &version, &data)
	if err != nil {
		return ledger.Item{}, err
	}

	rec, err := ledger.Decode(ledger.RecordType(recordType), data)
	if err != nil {
		return ledger.Item{}, err
	}

	return ledger.Item{Record: rec, Version: version}, nil
}

func nullableDate(d string) sql.NullString {
	return sql.NullString{String: d, Valid: d != ""}
}
