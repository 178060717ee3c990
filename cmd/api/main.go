package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fastprodman/typingpool/internal/api"
	"github.com/fastprodman/typingpool/internal/infra/logging"
	"github.com/fastprodman/typingpool/internal/infra/metrics"
	"github.com/fastprodman/typingpool/internal/infra/natsutil"
	"github.com/fastprodman/typingpool/internal/infra/pgutils"
	"github.com/fastprodman/typingpool/internal/notify"
	ledgerpg "github.com/fastprodman/typingpool/internal/repos/ledger/postgres"
	"github.com/fastprodman/typingpool/internal/services/balance"
	"github.com/fastprodman/typingpool/internal/services/pools"
	"github.com/fastprodman/typingpool/internal/services/settlement"
	"github.com/fastprodman/typingpool/internal/services/typing"
	"github.com/fastprodman/typingpool/internal/trigger"
	"github.com/fastprodman/typingpool/pkg/envconf"
	"github.com/fastprodman/typingpool/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

//nolint:funlen
func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.AddNamed("postgres", func(context.Context) error {
		return db.Close()
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "ledger"),
	)
	m := metrics.New(reg)

	nc, js, err := natsutil.Connect(cfg.NATS.URL, slog.Default())
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	shutdownqueue.AddNamed("nats", func(context.Context) error {
		return nc.Drain()
	})

	err = notify.EnsureStream(ctx, js, cfg.NATS.NotifyPrefix)
	if err != nil {
		return fmt.Errorf("ensure notification stream: %w", err)
	}

	// --- Services ---
	store := ledgerpg.New(db, cfg.Postgres.MaxTransactItems)

	settler := settlement.New(store,
		settlement.Config{CarryResidual: cfg.Settlement.CarryResidual},
		settlement.WithDispatcher(notify.NewNATSDispatcher(js, cfg.NATS.NotifyPrefix)),
		settlement.WithMetrics(m),
	)

	// Queued before the consumer so it runs after the consumer drained.
	shutdownqueue.AddNamed("notifications", settler.Wait)

	typings, err := typing.New(store, typing.Config{Stake: cfg.Typing.Stake}, typing.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("init typing service: %w", err)
	}

	// --- Trigger ---
	if cfg.TriggerEnabled {
		err = trigger.EnsureStream(ctx, js, cfg.NATS.MatchesStream, cfg.NATS.MatchesSubject)
		if err != nil {
			return fmt.Errorf("ensure matches stream: %w", err)
		}

		consumer := trigger.New(js, trigger.Config{
			Stream:     cfg.NATS.MatchesStream,
			Subject:    cfg.NATS.MatchesSubject,
			Durable:    cfg.NATS.Consumer,
			AckWait:    cfg.NATS.AckWait,
			MaxDeliver: cfg.NATS.MaxDeliver,
			RetryDelay: cfg.NATS.RetryDelay,
		}, settler, trigger.WithMetrics(m))

		// Settlements must outlive the signal context until the consumer drained.
		err = consumer.Start(context.WithoutCancel(ctx))
		if err != nil {
			return fmt.Errorf("start trigger: %w", err)
		}

		shutdownqueue.AddNamed("trigger", consumer.Stop)
	}

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, api.Services{
		Settlement: settler,
		Typings:    typings,
		Balances:   balance.New(store),
		Pools:      pools.New(store),
		Gatherer:   reg,
	})

	shutdownqueue.AddNamed("http", func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	// Run server
	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port, "trigger", cfg.TriggerEnabled)

	// --- Wait until either context cancels or server errors out ---
	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
