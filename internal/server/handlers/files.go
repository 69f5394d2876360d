package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/store"
)

// FileHandler exposes a read-only view of a conversation's workspace
// directory, the same one its container sees at /workspace.
type FileHandler struct {
	store        *store.Store
	orchestrator *sandbox.Orchestrator
}

func NewFileHandler(st *store.Store, orch *sandbox.Orchestrator) *FileHandler {
	return &FileHandler{store: st, orchestrator: orch}
}

type fileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// resolve maps a client-supplied relative path into the workspace, rejecting
// anything that escapes it.
func (h *FileHandler) resolve(convID, rel string) (string, bool) {
	root := h.orchestrator.WorkspacePath(convID)
	clean := filepath.Clean("/" + rel) // force absolute-style cleaning
	full := filepath.Join(root, clean)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	dir, ok := h.resolve(convID, r.URL.Query().Get("path"))
	if !ok {
		respondError(w, "invalid path", http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			respondJSON(w, map[string]any{"files": []fileEntry{}}, http.StatusOK)
			return
		}
		respondError(w, "failed to read workspace", http.StatusInternalServerError)
		return
	}

	root := h.orchestrator.WorkspacePath(convID)
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(root, filepath.Join(dir, e.Name()))
		files = append(files, fileEntry{
			Name:  e.Name(),
			Path:  rel,
			IsDir: e.IsDir(),
			Size:  info.Size(),
		})
	}
	respondJSON(w, map[string]any{"files": files}, http.StatusOK)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if _, err := h.store.GetConversation(r.Context(), convID, userID); err != nil {
		respondStoreError(w, err)
		return
	}

	path, ok := h.resolve(convID, r.URL.Query().Get("path"))
	if !ok {
		respondError(w, "invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}
