package balance

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUserNotFound = errors.New("user not found")

type UserSnapshot struct {
	UserID              string
	Balance             decimal.Decimal
	CorrectTypingsCount int
}
