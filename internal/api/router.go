package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the backends the HTTP surface calls into.
type Services struct {
	Settlement Settler
	Typings    TypingPlacer
	Balances   BalanceReader
	Pools      PoolManager
	// Gatherer backs /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter constructs a chi router with all API endpoints registered.
func NewRouter(s Services) http.Handler {
	h := NewHandler(s)
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/matches/{matchId}/settlement", h.SettleMatchHandler)

	r.Post("/user/{userId}/typings", h.PlaceTypingHandler)
	r.Get("/user/{userId}/balance", h.GetBalanceHandler)
	r.Get("/user/{userId}/messages", h.ListMessagesHandler)

	r.Put("/pools/{date}", h.EnsurePoolHandler)
	r.Get("/pools/{date}", h.GetPoolHandler)

	return r
}
