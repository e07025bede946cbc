package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type SettingsStore interface {
	AuthProvider(ctx context.Context) settings.AuthProvider
	SetAuthProvider(ctx context.Context, p settings.AuthProvider, updatedBy string) error
	List(ctx context.Context) ([]*models.SystemSetting, error)
}

type Granter interface {
	Grant(ctx context.Context, userID string, renders int, refund bool, reason string) (entitlement.Ledger, error)
}

type UserReports interface {
	AdminStats(ctx context.Context) (*user.AdminStats, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.LedgerTransaction, error)
}

type AdminHandler struct {
	settings SettingsStore
	granter  Granter
	reports  UserReports
}

func NewAdminHandler(store SettingsStore, granter Granter, reports UserReports) *AdminHandler {
	return &AdminHandler{settings: store, granter: granter, reports: reports}
}

type UserListResponse struct {
	Users  []*models.User `json:"users"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type UserDetailsResponse struct {
	User         *models.User                `json:"user"`
	Transactions []*models.LedgerTransaction `json:"transactions"`
}

type SetAuthProviderRequest struct {
	Provider settings.AuthProvider `json:"provider"`
}

type GrantRendersRequest struct {
	Renders int    `json:"renders"`
	Refund  bool   `json:"refund"`
	Reason  string `json:"reason"`
}

func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.settings.List(r.Context())
	if err != nil {
		logging.EnrichError(r.Context(), err, "list_settings")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load settings")
		return
	}
	if list == nil {
		list = []*models.SystemSetting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": list})
}

// SetAuthProvider switches the sign-in provider. The change applies to the
// next authenticated request; sessions issued by the previous provider stop
// verifying.
func (h *AdminHandler) SetAuthProvider(w http.ResponseWriter, r *http.Request) {
	admin, _ := user.GetDBUserFromContext(r.Context())

	var req SetAuthProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	updatedBy := ""
	if admin != nil {
		updatedBy = admin.Email
	}
	if err := h.settings.SetAuthProvider(r.Context(), req.Provider, updatedBy); err != nil {
		if errors.Is(err, settings.ErrInvalidValue) {
			writeError(w, http.StatusBadRequest, "INVALID_PROVIDER", "provider must be workos or local")
			return
		}
		logging.EnrichError(r.Context(), err, "set_auth_provider")
		log.Error().Err(err).Msg("failed to update auth provider")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": h.settings.AuthProvider(r.Context())})
}

// GrantRenders adds extra renders to an account, as a bonus or as a refund
// for a failed render.
func (h *AdminHandler) GrantRenders(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req GrantRendersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Renders <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "renders must be positive")
		return
	}

	ledger, err := h.granter.Grant(r.Context(), userID, req.Renders, req.Refund, strings.TrimSpace(req.Reason))
	if err != nil {
		logging.EnrichError(r.Context(), err, "grant_renders")
		switch {
		case errors.Is(err, user.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Account not found")
		case errors.Is(err, entitlement.ErrInvalidEvent):
			writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "renders must be positive")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("failed to grant renders")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to grant renders")
		}
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.AdminStats(r.Context())
	if err != nil {
		logging.EnrichError(r.Context(), err, "admin_stats")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTransactionLimit)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	users, total, err := h.reports.ListUsers(r.Context(), limit, offset)
	if err != nil {
		logging.EnrichError(r.Context(), err, "admin_list_users")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to list users")
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, UserListResponse{Users: users, Total: total, Limit: limit, Offset: offset})
}

// UserDetails returns an account with its ledger and most recent audit rows.
func (h *AdminHandler) UserDetails(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	account, err := h.reports.GetByID(r.Context(), userID)
	if err != nil {
		logging.EnrichError(r.Context(), err, "admin_user_details")
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load account")
		return
	}

	txs, err := h.reports.ListTransactions(r.Context(), userID, defaultTransactionLimit)
	if err != nil {
		logging.EnrichError(r.Context(), err, "admin_user_transactions")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load transactions")
		return
	}
	if txs == nil {
		txs = []*models.LedgerTransaction{}
	}
	writeJSON(w, http.StatusOK, UserDetailsResponse{User: account, Transactions: txs})
}
