// Package notify delivers win notifications to user devices.
package notify

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNoEndpoint = errors.New("user has no notification endpoint")

// Payload is the push message for one winner.
type Payload struct {
	Endpoint string          `json:"endpoint"`
	MatchID  string          `json:"matchId"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Amount   decimal.Decimal `json:"amount"`
}

// Dispatcher delivers a payload to the device endpoint of userID.
type Dispatcher interface {
	Notify(ctx context.Context, userID string, p Payload) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, userID string, p Payload) error

func (f DispatcherFunc) Notify(ctx context.Context, userID string, p Payload) error {
	return f(ctx, userID, p)
}
