package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
	"github.com/fastprodman/typingpool/internal/services/balance"
	"github.com/fastprodman/typingpool/internal/services/pools"
	"github.com/fastprodman/typingpool/internal/services/settlement"
	"github.com/fastprodman/typingpool/internal/services/typing"
)

const amountPlaces = 2

type Settler interface {
	Settle(ctx context.Context, matchID string) (settlement.Result, error)
}

type TypingPlacer interface {
	PlaceTyping(ctx context.Context, req typing.Request) (*ledger.Typing, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (balance.UserSnapshot, error)
	Messages(ctx context.Context, userID string) ([]ledger.Message, error)
}

type PoolManager interface {
	EnsurePeriod(ctx context.Context, date string) (*ledger.PoolRecord, bool, error)
	GetPeriod(ctx context.Context, date string) (*ledger.PoolRecord, error)
}

// HandlerProvider exposes the services as HTTP handlers.
type HandlerProvider struct {
	settlements Settler
	typings     TypingPlacer
	balances    BalanceReader
	pools       PoolManager
}

// NewHandler returns a new Handler provider.
func NewHandler(s Services) *HandlerProvider {
	return &HandlerProvider{
		settlements: s.Settlement,
		typings:     s.Typings,
		balances:    s.Balances,
		pools:       s.Pools,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam reads a non-blank chi URL parameter.
func pathParam(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	return v, v != ""
}

// decodeBody reads a size-capped JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "empty body", false
		}

		return "invalid JSON", false
	}

	return "", true
}

// --- Settlement ---

type winnerResponse struct {
	UserID string `json:"userId"`
	Amount string `json:"amount"`
}

type settlementResponse struct {
	SettlementID string           `json:"settlementId"`
	MatchID      string           `json:"matchId"`
	Outcome      string           `json:"outcome"`
	Pool         string           `json:"pool"`
	PerWinner    string           `json:"perWinner"`
	Residual     string           `json:"residual"`
	RolledOver   string           `json:"rolledOver"`
	NextPeriod   string           `json:"nextPeriod,omitempty"`
	Incorrect    int              `json:"incorrect"`
	Winners      []winnerResponse `json:"winners"`
}

func toSettlementResponse(res settlement.Result) settlementResponse {
	out := settlementResponse{
		SettlementID: res.SettlementID,
		MatchID:      res.MatchID,
		Outcome:      string(res.Outcome),
		Pool:         res.Pool.StringFixed(amountPlaces),
		PerWinner:    res.PerWinner.StringFixed(amountPlaces),
		Residual:     res.Residual.String(),
		RolledOver:   res.RolledOver.String(),
		NextPeriod:   res.NextPeriod,
		Incorrect:    res.Incorrect,
		Winners:      make([]winnerResponse, 0, len(res.Payouts)),
	}

	for _, p := range res.Payouts {
		out.Winners = append(out.Winners, winnerResponse{UserID: p.UserID, Amount: p.Amount.StringFixed(amountPlaces)})
	}

	return out
}

// SettleMatchHandler handles POST /matches/{matchId}/settlement
func (h *HandlerProvider) SettleMatchHandler(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathParam(r, "matchId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid matchId in path")
		return
	}

	res, err := h.settlements.Settle(r.Context(), matchID)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, settlement.ErrIncompleteResult):
			writeError(w, http.StatusUnprocessableEntity, "match has no final result")
		case errors.Is(err, settlement.ErrCommitFailed):
			writeError(w, http.StatusConflict, "settlement conflicted with a concurrent write, retry")
		case errors.Is(err, settlement.ErrMissingPeriod),
			errors.Is(err, settlement.ErrMissingUser),
			errors.Is(err, settlement.ErrInconsistentTyping),
			errors.Is(err, settlement.ErrNegativePool):
			writeError(w, http.StatusConflict, err.Error())
		default:
			slog.Error("settle match", "match_id", matchID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}

		return
	}

	writeJSON(w, http.StatusOK, toSettlementResponse(res))
}

// --- Typings ---

type typingRequest struct {
	MatchID   string `json:"matchId"`
	HomeScore *int   `json:"homeScore"`
	AwayScore *int   `json:"awayScore"`
}

type typingResponse struct {
	MatchID   string    `json:"matchId"`
	UserID    string    `json:"userId"`
	HomeScore int       `json:"homeScore"`
	AwayScore int       `json:"awayScore"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlaceTypingHandler handles POST /user/{userId}/typings
func (h *HandlerProvider) PlaceTypingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r, "userId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req typingRequest
	msg, ok := decodeBody(w, r, &req)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if req.MatchID == "" || req.HomeScore == nil || req.AwayScore == nil {
		writeError(w, http.StatusBadRequest, "matchId, homeScore and awayScore required")
		return
	}

	t, err := h.typings.PlaceTyping(r.Context(), typing.Request{
		MatchID: req.MatchID,
		UserID:  userID,
		Home:    *req.HomeScore,
		Away:    *req.AwayScore,
	})
	if err != nil {
		switch {
		case errors.Is(err, typing.ErrInvalidScore):
			writeError(w, http.StatusBadRequest, "scores must not be negative")
		case errors.Is(err, typing.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, typing.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, typing.ErrMatchStarted):
			writeError(w, http.StatusConflict, "match already started")
		case errors.Is(err, typing.ErrDuplicateTyping):
			writeError(w, http.StatusConflict, "typing already placed")
		case errors.Is(err, typing.ErrInsufficientFunds):
			writeError(w, http.StatusConflict, "insufficient funds")
		case errors.Is(err, typing.ErrConflict):
			writeError(w, http.StatusServiceUnavailable, "match is busy, retry")
		default:
			slog.Error("place typing", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}

		return
	}

	writeJSON(w, http.StatusCreated, typingResponse{
		MatchID:   t.MatchID,
		UserID:    t.UserID,
		HomeScore: t.PredictedHomeScore,
		AwayScore: t.PredictedAwayScore,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
	})
}

// --- Balances ---

// GetBalanceHandler handles GET /user/{userId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r, "userId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	snap, err := h.balances.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, balance.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}

		slog.Error("get balance", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":              snap.UserID,
		"balance":             snap.Balance.StringFixed(amountPlaces),
		"correctTypingsCount": snap.CorrectTypingsCount,
	})
}

type messageResponse struct {
	MatchID   string    `json:"matchId"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListMessagesHandler handles GET /user/{userId}/messages
func (h *HandlerProvider) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r, "userId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	msgs, err := h.balances.Messages(r.Context(), userID)
	if err != nil {
		if errors.Is(err, balance.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}

		slog.Error("list messages", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			MatchID:   m.MatchID,
			Date:      m.Date,
			Title:     m.Title,
			Body:      m.Body,
			Amount:    m.Amount.StringFixed(amountPlaces),
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "messages": out})
}

// --- Period pools ---

func poolResponse(p *ledger.PoolRecord) map[string]string {
	return map[string]string{"date": p.Date, "balance": p.Balance.StringFixed(amountPlaces)}
}

// EnsurePoolHandler handles PUT /pools/{date}
func (h *HandlerProvider) EnsurePoolHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathParam(r, "date")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date in path")
		return
	}

	p, created, err := h.pools.EnsurePeriod(r.Context(), date)
	if err != nil {
		if errors.Is(err, pools.ErrInvalidDate) {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		slog.Error("ensure pool", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	writeJSON(w, status, poolResponse(p))
}

// GetPoolHandler handles GET /pools/{date}
func (h *HandlerProvider) GetPoolHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathParam(r, "date")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date in path")
		return
	}

	p, err := h.pools.GetPeriod(r.Context(), date)
	if err != nil {
		if errors.Is(err, pools.ErrPoolNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}

		slog.Error("get pool", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	writeJSON(w, http.StatusOK, poolResponse(p))
}
