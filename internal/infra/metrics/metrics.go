// Package metrics holds the Prometheus collectors of the typing pool service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "typingpool"

type Metrics struct {
	SettlementsTotal      *prometheus.CounterVec
	SettlementDuration    prometheus.Histogram
	CommitFailures        prometheus.Counter
	NotificationFailures  prometheus.Counter
	NotificationsSent     prometheus.Counter
	PayoutAmountTotal     prometheus.Counter
	RolloverAmountTotal   prometheus.Counter
	ResidualAmountTotal   prometheus.Counter
	TypingsPlaced         prometheus.Counter
	TypingsRejected       *prometheus.CounterVec
	TriggerEventsReceived *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SettlementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by final outcome",
		}, []string{"outcome"}),

		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from settlement start to commit or abort",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),

		CommitFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_commit_failures_total",
			Help:      "Settlement transactions rejected by the ledger store",
		}),

		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Win notifications that could not be delivered",
		}),

		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Win notifications handed to the dispatcher",
		}),

		PayoutAmountTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_amount_total",
			Help:      "Currency credited to winners",
		}),

		RolloverAmountTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_amount_total",
			Help:      "Currency rolled into a next period pool because nobody won; carried residuals are in residual_amount_total",
		}),

		ResidualAmountTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "residual_amount_total",
			Help:      "Rounding residual left after equal division among winners",
		}),

		TypingsPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typings_placed_total",
			Help:      "Typings accepted before kickoff",
		}),

		TypingsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typings_rejected_total",
			Help:      "Typings rejected by reason",
		}, []string{"reason"}),

		TriggerEventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_events_total",
			Help:      "Match finished events consumed by disposition",
		}, []string{"disposition"}),
	}
}

// ObserveSettlement records the outcome and latency of one settlement attempt.
func (m *Metrics) ObserveSettlement(outcome string, started time.Time) {
	if m == nil {
		return
	}

	m.SettlementsTotal.WithLabelValues(outcome).Inc()
	m.SettlementDuration.Observe(time.Since(started).Seconds())
}

// AddAmount adds a currency amount to a counter. Non-positive amounts are ignored.
func AddAmount(c prometheus.Counter, amount decimal.Decimal) {
	if c == nil || !amount.IsPositive() {
		return
	}

	c.Add(amount.InexactFloat64())
}
