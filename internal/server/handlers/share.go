package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/store"
)

// ShareHandler mints and revokes public share tokens, and serves the
// read-only shared view without authentication.
type ShareHandler struct {
	store *store.Store
}

func NewShareHandler(st *store.Store) *ShareHandler {
	return &ShareHandler{store: st}
}

func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	conv, err := h.store.GetConversation(r.Context(), convID, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	// Minting is idempotent: an existing token is returned, not rotated.
	if conv.ShareToken != nil {
		respondJSON(w, map[string]string{"share_token": *conv.ShareToken}, http.StatusOK)
		return
	}

	token := id.NewShareToken()
	if err := h.store.SetConversationShareToken(r.Context(), convID, userID, &token); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"share_token": token}, http.StatusCreated)
}

func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if err := h.store.SetConversationShareToken(r.Context(), convID, userID, nil); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "revoked"}, http.StatusOK)
}

// GetShared serves the public view: title and messages, no owner identity,
// no provider settings.
func (h *ShareHandler) GetShared(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversationByShareToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID, 1000, 0)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	respondJSON(w, map[string]any{
		"title":      conv.Title,
		"created_at": conv.CreatedAt,
		"messages":   msgs,
	}, http.StatusOK)
}
