package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/quota"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/rs/zerolog/log"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
	retryAfterSeconds       = "1"
)

type RenderGate interface {
	TryConsume(ctx context.Context, userID string, now time.Time) (*quota.Result, error)
}

type TransactionLister interface {
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.LedgerTransaction, error)
}

type LedgerHandler struct {
	gate         RenderGate
	transactions TransactionLister
	now          func() time.Time
}

func NewLedgerHandler(gate RenderGate, transactions TransactionLister) *LedgerHandler {
	return &LedgerHandler{gate: gate, transactions: transactions, now: time.Now}
}

type ConsumeRenderResponse struct {
	Bucket           entitlement.Bucket  `json:"bucket"`
	Quality          entitlement.Quality `json:"quality"`
	HighResDownload  bool                `json:"high_res_download"`
	MonthlyRemaining int                 `json:"monthly_remaining"`
	ExtraRenders     int                 `json:"extra_renders"`
	TotalAvailable   int                 `json:"total_available"`
}

type TransactionsResponse struct {
	Transactions []*models.LedgerTransaction `json:"transactions"`
}

// ConsumeRender debits one render before the caller starts rendering.
func (h *LedgerHandler) ConsumeRender(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	res, err := h.gate.TryConsume(r.Context(), dbUser.ID, h.now().UTC())
	if err != nil {
		h.writeConsumeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumeRenderResponse{
		Bucket:           res.Bucket,
		Quality:          res.Quality,
		HighResDownload:  res.HighRes,
		MonthlyRemaining: res.Ledger.MonthlyRemaining(),
		ExtraRenders:     res.Ledger.ExtraRenders,
		TotalAvailable:   res.Ledger.Remaining(),
	})
}

func (h *LedgerHandler) writeConsumeError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *entitlement.DenialError
	if errors.As(err, &denial) {
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Code:    "NO_QUOTA",
			Message: denial.Message,
			Plan:    string(denial.Plan),
		})
		return
	}

	logging.EnrichError(r.Context(), err, "consume_render")
	switch {
	case errors.Is(err, quota.ErrConflict), errors.Is(err, user.ErrUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Please try again shortly")
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Account not found")
	default:
		log.Error().Err(err).Msg("render consumption failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTransactionLimit)
	}

	txs, err := h.transactions.ListTransactions(r.Context(), dbUser.ID, limit)
	if err != nil {
		logging.EnrichError(r.Context(), err, "list_transactions")
		log.Error().Err(err).Str("user_id", dbUser.ID).Msg("failed to list transactions")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load transactions")
		return
	}
	if txs == nil {
		txs = []*models.LedgerTransaction{}
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{Transactions: txs})
}
