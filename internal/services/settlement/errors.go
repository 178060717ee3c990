package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteResult: the match is not finished or misses a score. Safe to retry later.
	ErrIncompleteResult = errors.New("incomplete match result")
	// ErrMissingPeriod: the next period pool record has not been seeded.
	ErrMissingPeriod = errors.New("next period pool missing")
	// ErrCommitFailed: the ledger rejected the settlement transaction. Safe to retry from scratch.
	ErrCommitFailed = errors.New("settlement commit failed")
	// ErrNotificationFailure is logged per winner and never returned by Settle.
	ErrNotificationFailure = errors.New("win notification failed")

	ErrMatchNotFound      = errors.New("match not found")
	ErrMissingUser        = errors.New("winner user record missing")
	ErrNegativePool       = errors.New("negative pool amount")
	ErrNoWinners          = errors.New("allocation requires at least one winner")
	ErrTypingMismatch     = errors.New("typing does not belong to match")
	ErrInconsistentTyping = errors.New("typing already resolved on an unsettled match")
)

// State is a step of the settlement state machine.
type State string

const (
	StateStart        State = "start"
	StateResolved     State = "resolved"
	StateAllocated    State = "allocated"
	StateRolledOver   State = "rolled_over"
	StateCommitted    State = "committed"
	// StateNotified is reached in the background after Settle returned and
	// is only visible in logs; Result.State stops at StateCommitted.
	StateNotified     State = "notified"
	StateAborted      State = "aborted"
	StateCommitFailed State = "commit_failed"
)

// Error is returned by Settle and records the terminal state of the attempt.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("settlement %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
