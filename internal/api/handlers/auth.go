package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/bikeshrana/cnquant/internal/audit"
	"github.com/bikeshrana/cnquant/internal/auth"
	"github.com/bikeshrana/cnquant/internal/store"
)

// AuthHandler issues dashboard session tokens against the trader table.
type AuthHandler struct {
	store      *store.Store
	jwtService *auth.JWTService
	audit      *audit.AuditLogger
	logger     zerolog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(store *store.Store, jwtService *auth.JWTService, auditLogger *audit.AuditLogger, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{store: store, jwtService: jwtService, audit: auditLogger, logger: logger}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Username     string `json:"username"`
}

// Login validates the trader's credentials and issues a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	ctx := r.Context()
	trader, err := h.store.GetTraderByUsername(ctx, req.Username)
	if err != nil {
		h.audit.LogUserLogin(ctx, "", req.Username, r.RemoteAddr, false)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(trader.PasswordHash), []byte(req.Password)); err != nil {
		h.audit.LogUserLogin(ctx, "", req.Username, r.RemoteAddr, false)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokens, err := h.jwtService.GenerateTokenPair(ctx, strconv.FormatInt(trader.ID, 10), trader.Username, "", "operator")
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate token pair")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.audit.LogUserLogin(ctx, strconv.FormatInt(trader.ID, 10), trader.Username, r.RemoteAddr, true)
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Username:     trader.Username,
	})
}

// Logout audits a logout; JWTs are stateless so there is no server-side
// token to invalidate.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims := auth.GetUserFromContext(r.Context()); claims != nil {
		h.audit.LogUserLogout(r.Context(), claims.UserID, claims.Username, r.RemoteAddr)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// RefreshToken exchanges a valid refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.jwtService.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// GetCurrentUser returns the claims embedded in the caller's token.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"role":     claims.Role,
	})
}
