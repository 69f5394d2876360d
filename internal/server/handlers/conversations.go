package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/hub"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/store"
)

type ConversationHandler struct {
	store        *store.Store
	hub          *hub.Hub
	orchestrator *sandbox.Orchestrator
}

func NewConversationHandler(st *store.Store, h *hub.Hub, orch *sandbox.Orchestrator) *ConversationHandler {
	return &ConversationHandler{store: st, hub: h, orchestrator: orch}
}

type conversationRequest struct {
	Title         *string `json:"title"`
	ProviderName  *string `json:"provider_name"`
	ModelName     *string `json:"model_name"`
	ImageProvider *string `json:"image_provider"`
	ImageModel    *string `json:"image_model"`
	SystemPrompt  *string `json:"system_prompt"`
	DeepThinking  *bool   `json:"deep_thinking"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv := &domain.Conversation{
		ID:            id.NewConversation(),
		UserID:        userID,
		Title:         "New conversation",
		ProviderName:  req.ProviderName,
		ModelName:     req.ModelName,
		ImageProvider: req.ImageProvider,
		ImageModel:    req.ImageModel,
		SystemPrompt:  req.SystemPrompt,
		CreatedAt:     time.Now().UTC(),
	}
	if req.Title != nil && *req.Title != "" {
		conv.Title = *req.Title
	}
	if req.DeepThinking != nil {
		conv.DeepThinking = *req.DeepThinking
	}

	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusCreated)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusOK)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	convs, err := h.store.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}

	respondJSON(w, map[string]any{
		"conversations": convs,
		"limit":         limit,
		"offset":        offset,
	}, http.StatusOK)
}

// Update patches conversation settings. A provider or model change tears
// down the live container so the next message boots a fresh one with the new
// init parameters.
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.store.GetConversation(r.Context(), convID, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	modelChanged := false
	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.ProviderName != nil {
		conv.ProviderName = req.ProviderName
		modelChanged = true
	}
	if req.ModelName != nil {
		conv.ModelName = req.ModelName
		modelChanged = true
	}
	if req.ImageProvider != nil {
		conv.ImageProvider = req.ImageProvider
	}
	if req.ImageModel != nil {
		conv.ImageModel = req.ImageModel
	}
	if req.SystemPrompt != nil {
		conv.SystemPrompt = req.SystemPrompt
		modelChanged = true
	}
	if req.DeepThinking != nil {
		conv.DeepThinking = *req.DeepThinking
	}

	if err := h.store.UpdateConversation(r.Context(), conv); err != nil {
		respondStoreError(w, err)
		return
	}

	if modelChanged {
		h.teardownContainer(convID)
	}

	respondJSON(w, conv, http.StatusOK)
}

// Delete removes the conversation, its container and its workspace.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if err := h.store.DeleteConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	h.teardownContainer(convID)
	if err := h.orchestrator.RemoveWorkspace(convID); err != nil {
		slog.Warn("workspace removal failed", "conversation_id", convID, "error", err)
	}

	respondJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")
	limit := parseIntQuery(r, "limit", 200)
	offset := parseIntQuery(r, "offset", 0)

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), convID, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	respondJSON(w, map[string]any{"messages": msgs, "limit": limit, "offset": offset}, http.StatusOK)
}

// teardownContainer removes the hub sender and stops the container. The stop
// uses a background context: the caller's request finishing must not strand a
// half-stopped container.
func (h *ConversationHandler) teardownContainer(convID string) {
	h.hub.RemoveContainer(convID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.orchestrator.StopContainer(ctx, convID); err != nil {
		slog.Debug("container teardown skipped", "conversation_id", convID, "error", err)
	}
}
