package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"30m"`
	// MaxTransactItems bounds the write-set of a single ledger transaction.
	MaxTransactItems int `env:"PG_MAX_TRANSACT_ITEMS" default:"100"`
}

type NATSConfig struct {
	URL            string `env:"NATS_URL" default:"nats://localhost:4222"`
	MatchesStream  string `env:"NATS_MATCHES_STREAM" default:"TYPING_MATCHES"`
	MatchesSubject string `env:"NATS_MATCHES_SUBJECT" default:"typing.matches.finished.>"`
	Consumer       string `env:"NATS_CONSUMER" default:"settlement"`

	// NotifyPrefix is the subject prefix push requests are published under.
	NotifyPrefix string        `env:"NATS_NOTIFY_SUBJECT_PREFIX" default:"typing.notifications"`
	AckWait      time.Duration `env:"NATS_ACK_WAIT" default:"30s"`
	MaxDeliver   int           `env:"NATS_MAX_DELIVER" default:"10"`

	// RetryDelay spaces out redeliveries of matches that could not be settled yet.
	RetryDelay time.Duration `env:"NATS_RETRY_DELAY" default:"5s"`
}

type SettlementConfig struct {
	// CarryResidual moves the rounding residual of a win into the next period pool.
	CarryResidual bool `env:"SETTLEMENT_CARRY_RESIDUAL" default:"true"`
}

type TypingConfig struct {
	Stake decimal.Decimal `env:"TYPING_STAKE" default:"1.00"`
}
