package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/store"
)

type PresetHandler struct {
	store *store.Store
}

func NewPresetHandler(st *store.Store) *PresetHandler {
	return &PresetHandler{store: st}
}

type presetRequest struct {
	Name         string  `json:"name"`
	ProviderName string  `json:"provider_name"`
	ModelName    string  `json:"model_name"`
	SystemPrompt *string `json:"system_prompt"`
	DeepThinking *bool   `json:"deep_thinking"`
}

func (h *PresetHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req presetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.ProviderName == "" || req.ModelName == "" {
		respondError(w, "name, provider_name and model_name are required", http.StatusBadRequest)
		return
	}

	preset := &domain.Preset{
		ID:           id.NewPreset(),
		UserID:       userID,
		Name:         req.Name,
		ProviderName: req.ProviderName,
		ModelName:    req.ModelName,
		SystemPrompt: req.SystemPrompt,
		CreatedAt:    time.Now().UTC(),
	}
	if req.DeepThinking != nil {
		preset.DeepThinking = *req.DeepThinking
	}

	if err := h.store.CreatePreset(r.Context(), preset); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, preset, http.StatusCreated)
}

func (h *PresetHandler) List(w http.ResponseWriter, r *http.Request) {
	presets, err := h.store.ListPresets(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if presets == nil {
		presets = []*domain.Preset{}
	}
	respondJSON(w, map[string]any{"presets": presets}, http.StatusOK)
}

func (h *PresetHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	preset, err := h.store.GetPreset(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req presetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		preset.Name = req.Name
	}
	if req.ProviderName != "" {
		preset.ProviderName = req.ProviderName
	}
	if req.ModelName != "" {
		preset.ModelName = req.ModelName
	}
	if req.SystemPrompt != nil {
		preset.SystemPrompt = req.SystemPrompt
	}
	if req.DeepThinking != nil {
		preset.DeepThinking = *req.DeepThinking
	}

	if err := h.store.UpdatePreset(r.Context(), preset); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, preset, http.StatusOK)
}

func (h *PresetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePreset(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context())); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}
