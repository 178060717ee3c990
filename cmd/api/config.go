package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/typingpool/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" default:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	// TriggerEnabled turns on the JetStream match-finished consumer.
	TriggerEnabled bool `env:"APP_TRIGGER_ENABLED" default:"true"`

	Postgres   config.PostgresConfig
	NATS       config.NATSConfig
	Settlement config.SettlementConfig
	Typing     config.TypingConfig
}
