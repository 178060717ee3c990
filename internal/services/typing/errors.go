package typing

import "errors"

var (
	ErrInvalidScore      = errors.New("invalid score")
	ErrMatchNotFound     = errors.New("match not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrMatchStarted      = errors.New("match already started")
	ErrDuplicateTyping   = errors.New("typing already placed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict means the match or user kept changing under every attempt.
	ErrConflict = errors.New("concurrent modification")
)

// reason maps a rejection to its metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, ErrMatchNotFound):
		return "match_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrMatchStarted):
		return "match_started"
	case errors.Is(err, ErrDuplicateTyping):
		return "duplicate"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
