package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("item not found")
	ErrTransactionCanceled = errors.New("transaction canceled")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)

// DefaultMaxItems bounds a single TransactWrite call.
const DefaultMaxItems = 100

// Index selects the lookup path used by Query.
type Index string

const (
	IndexPrimary    Index = "primary"     // items sharing a primary id
	IndexSecondary  Index = "secondary"   // items owned by a secondary id (user)
	IndexDate       Index = "date"        // matches/pools scheduled on a day
	IndexRecordType Index = "record_type" // all items of one kind
)

// Query describes an index scan. RecordType, when set, filters the result.
type Query struct {
	Index      Index
	Value      string
	RecordType RecordType
}

// Item is a stored record together with its version.
type Item struct {
	Record  Record
	Version int64
}

// Write is one conditional put inside a transaction.
//
// ExpectedVersion == 0 requires that the item does not exist yet.
// ExpectedVersion > 0 requires the stored item to be at exactly that version.
type Write struct {
	Record          Record
	ExpectedVersion int64
}

// Put builds a write that creates rec.
func Put(rec Record) Write {
	return Write{Record: rec}
}

// Update builds a write that replaces the item read as it.
func Update(it Item, rec Record) Write {
	return Write{Record: rec, ExpectedVersion: it.Version}
}

// Reason codes reported for a canceled transaction.
const (
	CodeConditionalCheckFailed = "ConditionalCheckFailed"
)

type CancellationReason struct {
	Key  Key
	Code string
}

// TransactionCanceledError lists every item whose precondition failed.
type TransactionCanceledError struct {
	Reasons []CancellationReason
}

func (e *TransactionCanceledError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Key, r.Code))
	}

	return fmt.Sprintf("transaction canceled: [%s]", strings.Join(parts, ", "))
}

func (e *TransactionCanceledError) Is(target error) bool {
	return target == ErrTransactionCanceled
}

// Failed reports whether the precondition on key was among the failures.
func (e *TransactionCanceledError) Failed(key Key) bool {
	for _, r := range e.Reasons {
		if r.Key == key {
			return true
		}
	}

	return false
}

type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	Query(ctx context.Context, q Query) ([]Item, error)
	TransactWrite(ctx context.Context, writes []Write) error
}

// ValidateWrites checks the structural rules shared by every Store implementation.
func ValidateWrites(writes []Write, maxItems int) error {
	if len(writes) == 0 {
		return fmt.Errorf("%w: empty write-set", ErrInvalidTransaction)
	}

	if maxItems > 0 && len(writes) > maxItems {
		return fmt.Errorf("%w: %d items exceeds limit of %d", ErrInvalidTransaction, len(writes), maxItems)
	}

	seen := make(map[Key]struct{}, len(writes))
	for _, w := range writes {
		if w.Record == nil {
			return fmt.Errorf("%w: nil record", ErrInvalidTransaction)
		}

		if w.ExpectedVersion < 0 {
			return fmt.Errorf("%w: negative expected version for %s", ErrInvalidTransaction, w.Record.Key())
		}

		k := w.Record.Key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate key %s", ErrInvalidTransaction, k)
		}

		seen[k] = struct{}{}
	}

	return nil
}
