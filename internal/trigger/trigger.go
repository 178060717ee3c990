// Package trigger settles matches as "match finished" events arrive on JetStream.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fastprodman/typingpool/internal/infra/logging"
	"github.com/fastprodman/typingpool/internal/infra/metrics"
	"github.com/fastprodman/typingpool/internal/services/settlement"
)

// Settler is the settlement entry point driven by the consumer.
type Settler interface {
	Settle(ctx context.Context, matchID string) (settlement.Result, error)
}

// Disposition is what happens to a consumed message.
type Disposition string

const (
	Ack Disposition = "ack"
	// Nak asks for immediate redelivery.
	Nak Disposition = "nak"
	// Retry asks for redelivery after Config.RetryDelay.
	Retry Disposition = "retry"
	// Term drops a message that can never be processed.
	Term Disposition = "term"
)

type Config struct {
	Stream     string
	Subject    string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
	RetryDelay time.Duration
	// SettleTimeout bounds one settlement attempt. Zero means AckWait.
	SettleTimeout time.Duration
}

type event struct {
	MatchID string `json:"matchId"`
}

type Consumer struct {
	js      jetstream.JetStream
	cfg     Config
	settler Settler
	metrics *metrics.Metrics
	log     *slog.Logger

	cc jetstream.ConsumeContext
}

type Option func(*Consumer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}

func New(js jetstream.JetStream, cfg Config, settler Settler, opts ...Option) *Consumer {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = cfg.AckWait
	}

	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}

	c := &Consumer{
		js:      js,
		cfg:     cfg,
		settler: settler,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log = logging.Component(c.log, "trigger")

	return c
}

// EnsureStream creates the stream match events are published to.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}

	return nil
}

// Start creates the durable consumer and begins settling matches.
// ctx scopes the settlements started by consumed messages.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMsg(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Durable, err)
	}

	c.cc = cc
	c.log.Info("consuming match events", "stream", c.cfg.Stream, "subject", c.cfg.Subject, "consumer", c.cfg.Durable)

	return nil
}

// Stop drains the consumer, letting in-flight messages finish, until ctx is done.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cc == nil {
		return nil
	}

	c.cc.Drain()

	select {
	case <-c.cc.Closed():
		return nil
	case <-ctx.Done():
		c.cc.Stop()
		return fmt.Errorf("drain consumer: %w", ctx.Err())
	}
}

func (c *Consumer) handleMsg(ctx context.Context, msg jetstream.Msg) {
	d := c.handle(ctx, msg.Data())

	if c.metrics != nil {
		c.metrics.TriggerEventsReceived.WithLabelValues(string(d)).Inc()
	}

	var err error
	switch d {
	case Ack:
		err = msg.Ack()
	case Nak:
		err = msg.Nak()
	case Retry:
		err = msg.NakWithDelay(c.cfg.RetryDelay)
	case Term:
		err = msg.Term()
	}

	if err != nil {
		c.log.Warn("message disposition failed", "subject", msg.Subject(), "disposition", d, "error", err)
	}
}

// handle settles the match named by data and decides the message's fate.
func (c *Consumer) handle(ctx context.Context, data []byte) Disposition {
	var ev event

	err := json.Unmarshal(data, &ev)
	if err != nil || strings.TrimSpace(ev.MatchID) == "" {
		c.log.Error("malformed match event", "error", err, "payload", string(data))
		return Term
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SettleTimeout)
	defer cancel()

	res, err := c.settler.Settle(ctx, ev.MatchID)
	if err == nil {
		c.log.Debug("match event handled", "match_id", ev.MatchID, "outcome", res.Outcome)
		return Ack
	}

	// Another run moved the items first; re-reading is enough.
	if errors.Is(err, settlement.ErrCommitFailed) {
		return Nak
	}

	c.log.Warn("match not settled, will retry", "match_id", ev.MatchID, "error", err)

	return Retry
}
