package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/rs/zerolog/log"
)

// Handlers serves the sign-in endpoints of both providers. Each provider's
// endpoints refuse requests while the other one is active.
type Handlers struct {
	resolver *Resolver
	workos   *WorkOSProvider
	local    *LocalProvider
}

func NewHandlers(resolver *Resolver, workos *WorkOSProvider, local *LocalProvider) *Handlers {
	return &Handlers{resolver: resolver, workos: workos, local: local}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type callbackRequest struct {
	Code string `json:"code"`
}

type providerResponse struct {
	Provider settings.AuthProvider `json:"provider"`
}

func (h *Handlers) ActiveProvider(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providerResponse{Provider: h.resolver.ActiveName(r.Context())})
}

func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r, settings.ProviderLocal, h.local != nil) {
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	session, err := h.local.Signup(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeSignInError(w, r, err)
		return
	}
	logging.EnrichUser(r.Context(), session.User.ID, session.User.Email, session.User.Provider)
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r, settings.ProviderLocal, h.local != nil) {
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	session, err := h.local.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeSignInError(w, r, err)
		return
	}
	logging.EnrichUser(r.Context(), session.User.ID, session.User.Email, session.User.Provider)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) WorkOSLogin(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r, settings.ProviderWorkOS, h.workos != nil) {
		return
	}

	authorizationURL, err := h.workos.LoginURL(r.URL.Query().Get("state"))
	if err != nil {
		log.Error().Err(err).Msg("failed to build WorkOS authorization URL")
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to start sign-in")
		return
	}
	http.Redirect(w, r, authorizationURL, http.StatusSeeOther)
}

func (h *Handlers) WorkOSCallback(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r, settings.ProviderWorkOS, h.workos != nil) {
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "code is required")
		return
	}

	session, err := h.workos.Exchange(r.Context(), req.Code)
	if err != nil {
		h.writeSignInError(w, r, err)
		return
	}
	logging.EnrichUser(r.Context(), session.User.ID, session.User.Email, session.User.Provider)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) enabled(w http.ResponseWriter, r *http.Request, want settings.AuthProvider, wired bool) bool {
	if h.resolver.ActiveName(r.Context()) != want {
		writeJSONError(w, http.StatusForbidden, "PROVIDER_DISABLED", "This sign-in method is currently disabled")
		return false
	}
	if !wired {
		writeJSONError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is temporarily unavailable")
		return false
	}
	return true
}

func (h *Handlers) writeSignInError(w http.ResponseWriter, r *http.Request, err error) {
	logging.EnrichError(r.Context(), err, "sign_in")
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, ErrAccountExists):
		writeJSONError(w, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists")
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, ErrNotConfigured):
		writeJSONError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is temporarily unavailable")
	default:
		log.Error().Err(err).Msg("sign-in failed")
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "Sign-in failed")
	}
}
