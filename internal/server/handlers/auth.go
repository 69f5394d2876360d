package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/store"
	"github.com/cruciblehq/crucible/internal/vault"
)

type AuthHandler struct {
	store *store.Store
	auth  config.AuthConfig
}

func NewAuthHandler(st *store.Store, auth config.AuthConfig) *AuthHandler {
	return &AuthHandler{store: st, auth: auth}
}

type tokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *domain.User `json:"user"`
}

// Register creates an account. The first user of the deployment becomes
// admin.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		respondError(w, "username is required", http.StatusBadRequest)
		return
	}
	if err := vault.ValidatePassword(req.Password); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := vault.HashPassword(req.Password)
	if err != nil {
		respondError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	count, err := h.store.CountUsers(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	user := &domain.User{
		ID:           id.NewUser(),
		Username:     req.Username,
		PasswordHash: hash,
		IsAdmin:      count == 0,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			respondError(w, "username already taken", http.StatusConflict)
			return
		}
		respondStoreError(w, err)
		return
	}

	h.issueTokens(w, r, user, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !vault.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issueTokens(w, r, user, http.StatusOK)
}

// Refresh rotates the refresh token: the presented one is deleted and a new
// pair is issued.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.store.GetRefreshTokenByHash(r.Context(), vault.HashRefreshToken(req.RefreshToken))
	if err != nil {
		respondError(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	user, err := h.store.GetUser(r.Context(), stored.UserID)
	if err != nil {
		respondError(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	if err := h.store.DeleteRefreshToken(r.Context(), stored.ID); err != nil {
		respondStoreError(w, err)
		return
	}

	h.issueTokens(w, r, user, http.StatusOK)
}

// Logout revokes every refresh token the user holds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.store.DeleteUserRefreshTokens(r.Context(), userID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "logged out"}, http.StatusOK)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, user, http.StatusOK)
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, r *http.Request, user *domain.User, status int) {
	access, err := vault.CreateAccessToken(user.ID, user.Username, user.IsAdmin, h.auth.JWTSecret, h.auth.AccessTokenTTL)
	if err != nil {
		respondError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	refresh, hash, err := vault.GenerateRefreshToken()
	if err != nil {
		respondError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	err = h.store.CreateRefreshToken(r.Context(), &domain.RefreshToken{
		ID:        id.NewRefreshToken(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(h.auth.RefreshTokenTTL),
		CreatedAt: now,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, tokenPair{AccessToken: access, RefreshToken: refresh, User: user}, status)
}
