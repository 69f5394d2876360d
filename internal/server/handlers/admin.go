package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/store"
)

// AdminHandler exposes the deployment-wide views reserved for admin users:
// the account list and the running sandbox containers.
type AdminHandler struct {
	store    *store.Store
	registry *sandbox.Registry
}

func NewAdminHandler(st *store.Store, registry *sandbox.Registry) *AdminHandler {
	return &AdminHandler{store: st, registry: registry}
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !IsAdminFromContext(r.Context()) {
		respondError(w, "admin access required", http.StatusForbidden)
		return false
	}
	return true
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]any{"users": users}, http.StatusOK)
}

// DeleteUser soft-deletes an account and revokes its refresh tokens. Admins
// cannot delete themselves; that would orphan the deployment.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	targetID := chi.URLParam(r, "id")
	if targetID == UserIDFromContext(r.Context()) {
		respondError(w, "cannot delete your own account", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteUser(r.Context(), targetID); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := h.store.DeleteUserRefreshTokens(r.Context(), targetID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

type containerInfo struct {
	ConversationID string    `json:"conversation_id"`
	ContainerID    string    `json:"container_id,omitempty"`
	UserID         string    `json:"user_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActive     time.Time `json:"last_active"`
	Starting       bool      `json:"starting"`
}

// ListContainers snapshots the sandbox registry, in-flight starts included.
func (h *AdminHandler) ListContainers(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	infos := h.registry.ListAll()
	containers := make([]containerInfo, 0, len(infos))
	for _, info := range infos {
		containers = append(containers, containerInfo{
			ConversationID: info.ConversationID,
			ContainerID:    info.ContainerID,
			UserID:         info.UserID,
			StartedAt:      info.StartedAt,
			LastActive:     info.LastActive,
			Starting:       info.ContainerID == "",
		})
	}
	respondJSON(w, map[string]any{"containers": containers}, http.StatusOK)
}
