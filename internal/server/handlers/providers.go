package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/store"
	"github.com/cruciblehq/crucible/internal/vault"
)

type ProviderHandler struct {
	store         *store.Store
	encryptionKey string
}

func NewProviderHandler(st *store.Store, encryptionKey string) *ProviderHandler {
	return &ProviderHandler{store: st, encryptionKey: encryptionKey}
}

type providerRequest struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	APIKey      string   `json:"api_key"`
	EndpointURL *string  `json:"endpoint_url"`
	Models      []string `json:"models"`
	ImageModels []string `json:"image_models"`
	IsDefault   bool     `json:"is_default"`
}

// Create stores a provider credential. The API key is encrypted before it
// touches the database and is never returned by any endpoint.
func (h *ProviderHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Kind == "" || req.APIKey == "" {
		respondError(w, "name, kind and api_key are required", http.StatusBadRequest)
		return
	}

	encrypted, err := vault.Encrypt(req.APIKey, h.encryptionKey)
	if err != nil {
		respondError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	provider := &domain.Provider{
		ID:              id.NewProvider(),
		UserID:          userID,
		Name:            req.Name,
		Kind:            req.Kind,
		APIKeyEncrypted: encrypted,
		EndpointURL:     req.EndpointURL,
		Models:          req.Models,
		ImageModels:     req.ImageModels,
		CreatedAt:       time.Now().UTC(),
	}
	if provider.Models == nil {
		provider.Models = []string{}
	}
	if provider.ImageModels == nil {
		provider.ImageModels = []string{}
	}

	if err := h.store.CreateProvider(r.Context(), provider); err != nil {
		respondStoreError(w, err)
		return
	}

	if req.IsDefault {
		if err := h.store.SetDefaultProvider(r.Context(), provider.ID, userID); err != nil {
			respondStoreError(w, err)
			return
		}
		provider.IsDefault = true
	}

	respondJSON(w, provider, http.StatusCreated)
}

func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	provider, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, provider, http.StatusOK)
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if providers == nil {
		providers = []*domain.Provider{}
	}
	respondJSON(w, map[string]any{"providers": providers}, http.StatusOK)
}

func (h *ProviderHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	provider, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		provider.Name = req.Name
	}
	if req.Kind != "" {
		provider.Kind = req.Kind
	}
	if req.APIKey != "" {
		encrypted, err := vault.Encrypt(req.APIKey, h.encryptionKey)
		if err != nil {
			respondError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		provider.APIKeyEncrypted = encrypted
	}
	if req.EndpointURL != nil {
		provider.EndpointURL = req.EndpointURL
	}
	if req.Models != nil {
		provider.Models = req.Models
	}
	if req.ImageModels != nil {
		provider.ImageModels = req.ImageModels
	}

	if err := h.store.UpdateProvider(r.Context(), provider); err != nil {
		respondStoreError(w, err)
		return
	}

	if req.IsDefault && !provider.IsDefault {
		if err := h.store.SetDefaultProvider(r.Context(), provider.ID, userID); err != nil {
			respondStoreError(w, err)
			return
		}
		provider.IsDefault = true
	}

	respondJSON(w, provider, http.StatusOK)
}

func (h *ProviderHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.store.SetDefaultProvider(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "default set"}, http.StatusOK)
}

func (h *ProviderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteProvider(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context())); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}
