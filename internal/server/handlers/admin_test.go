package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/crucible/internal/sandbox"
)

func adminRequest(method, target, userID string, isAdmin bool) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(SetUserInContext(req.Context(), userID, isAdmin))
}

func TestRequireAdminRejectsRegularUser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := adminRequest(http.MethodGet, "/admin/users", "usr_1", false)

	assert.False(t, requireAdmin(rec, req))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	rec := httptest.NewRecorder()
	req := adminRequest(http.MethodGet, "/admin/users", "usr_1", true)

	assert.True(t, requireAdmin(rec, req))
}

func TestDeleteUserSelfForbidden(t *testing.T) {
	h := NewAdminHandler(nil, nil)

	req := adminRequest(http.MethodDelete, "/admin/users/usr_1", "usr_1", true)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "usr_1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.DeleteUser(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListContainersSnapshot(t *testing.T) {
	reg := sandbox.NewRegistry()
	require.True(t, reg.Begin("conv_1", "usr_1"))
	reg.Commit("conv_1", "abc123")
	require.True(t, reg.Begin("conv_2", "usr_2")) // start still in flight

	h := NewAdminHandler(nil, reg)
	rec := httptest.NewRecorder()
	h.ListContainers(rec, adminRequest(http.MethodGet, "/admin/containers", "usr_1", true))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Containers []containerInfo `json:"containers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Containers, 2)

	byConv := map[string]containerInfo{}
	for _, c := range body.Containers {
		byConv[c.ConversationID] = c
	}
	assert.Equal(t, "abc123", byConv["conv_1"].ContainerID)
	assert.False(t, byConv["conv_1"].Starting)
	assert.True(t, byConv["conv_2"].Starting)
	assert.Empty(t, byConv["conv_2"].ContainerID)
}
