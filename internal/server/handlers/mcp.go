package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/store"
)

// MCPHandler manages the MCP servers attached to a conversation. Changes
// take effect on the container's next init, not retroactively.
type MCPHandler struct {
	store *store.Store
}

func NewMCPHandler(st *store.Store) *MCPHandler {
	return &MCPHandler{store: st}
}

type mcpServerRequest struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   *string           `json:"command"`
	Args      []string          `json:"args"`
	URL       *string           `json:"url"`
	Env       map[string]string `json:"env"`
}

func validTransport(t string) bool {
	switch t {
	case domain.MCPTransportStdio, domain.MCPTransportSSE, domain.MCPTransportHTTP:
		return true
	}
	return false
}

func (h *MCPHandler) Attach(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	var req mcpServerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || !validTransport(req.Transport) {
		respondError(w, "name and a valid transport are required", http.StatusBadRequest)
		return
	}
	if req.Transport == domain.MCPTransportStdio && (req.Command == nil || *req.Command == "") {
		respondError(w, "stdio transport requires a command", http.StatusBadRequest)
		return
	}
	if req.Transport != domain.MCPTransportStdio && (req.URL == nil || *req.URL == "") {
		respondError(w, "sse and http transports require a url", http.StatusBadRequest)
		return
	}

	server := &domain.MCPServer{
		ID:             id.NewMCPServer(),
		ConversationID: convID,
		Name:           req.Name,
		Transport:      req.Transport,
		Command:        req.Command,
		Args:           req.Args,
		URL:            req.URL,
		Env:            req.Env,
		CreatedAt:      time.Now().UTC(),
	}
	if server.Args == nil {
		server.Args = []string{}
	}

	if err := h.store.CreateMCPServer(r.Context(), server); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, server, http.StatusCreated)
}

func (h *MCPHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	servers, err := h.store.ListMCPServers(r.Context(), convID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if servers == nil {
		servers = []*domain.MCPServer{}
	}
	respondJSON(w, map[string]any{"mcp_servers": servers}, http.StatusOK)
}

func (h *MCPHandler) Detach(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := h.store.DeleteMCPServer(r.Context(), chi.URLParam(r, "serverID"), convID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "detached"}, http.StatusOK)
}
