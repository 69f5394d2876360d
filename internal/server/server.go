package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cruciblehq/crucible/internal/chat"
	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/hub"
	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/server/handlers"
	"github.com/cruciblehq/crucible/internal/store"
)

const readTimeout = 30 * time.Second

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
	hub    *hub.Hub
}

func NewServer(
	cfg *config.Config,
	st *store.Store,
	h *hub.Hub,
	chatSvc *chat.Service,
	orchestrator *sandbox.Orchestrator,
	engine *sandbox.Engine,
) *Server {
	router := chi.NewRouter()
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(Metrics)
	router.Use(CORS(cfg.Server.AllowedOrigins))

	healthH := handlers.NewHealthHandler(
		func(ctx context.Context) error { return st.Pool().Ping(ctx) },
		func(ctx context.Context) error { return engine.Ping(ctx) },
	)
	router.Get("/health", healthH.Liveness)
	router.Get("/health/full", healthH.Readiness)
	router.Handle("/metrics", promhttp.Handler())

	// Both WebSocket surfaces authenticate via query-parameter tokens before
	// upgrading, so they sit outside the bearer-auth middleware.
	router.Get("/ws", NewClientWS(h, st, chatSvc, orchestrator, cfg).ServeHTTP)
	router.Get("/internal/ws", NewContainerWS(h, st, chatSvc, orchestrator.Registry(), cfg).ServeHTTP)

	authH := handlers.NewAuthHandler(st, cfg.Auth)
	shareH := handlers.NewShareHandler(st)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		r.Get("/share/{token}", shareH.GetShared)

		r.Group(func(r chi.Router) {
			r.Use(Auth(cfg.Auth.JWTSecret))

			r.Post("/auth/logout", authH.Logout)
			r.Get("/auth/me", authH.Me)

			convH := handlers.NewConversationHandler(st, h, orchestrator)
			r.Post("/conversations", convH.Create)
			r.Get("/conversations", convH.List)
			r.Get("/conversations/{id}", convH.Get)
			r.Patch("/conversations/{id}", convH.Update)
			r.Delete("/conversations/{id}", convH.Delete)
			r.Get("/conversations/{id}/messages", convH.ListMessages)

			r.Post("/conversations/{id}/share", shareH.Create)
			r.Delete("/conversations/{id}/share", shareH.Revoke)

			mcpH := handlers.NewMCPHandler(st)
			r.Get("/conversations/{id}/mcp-servers", mcpH.List)
			r.Post("/conversations/{id}/mcp-servers", mcpH.Attach)
			r.Delete("/conversations/{id}/mcp-servers/{serverID}", mcpH.Detach)

			fileH := handlers.NewFileHandler(st, orchestrator)
			r.Get("/conversations/{id}/files", fileH.List)
			r.Get("/conversations/{id}/files/download", fileH.Download)

			provH := handlers.NewProviderHandler(st, cfg.Auth.EncryptionKey)
			r.Post("/providers", provH.Create)
			r.Get("/providers", provH.List)
			r.Get("/providers/{id}", provH.Get)
			r.Patch("/providers/{id}", provH.Update)
			r.Post("/providers/{id}/default", provH.SetDefault)
			r.Delete("/providers/{id}", provH.Delete)

			adminH := handlers.NewAdminHandler(st, orchestrator.Registry())
			r.Get("/admin/users", adminH.ListUsers)
			r.Delete("/admin/users/{id}", adminH.DeleteUser)
			r.Get("/admin/containers", adminH.ListContainers)

			presetH := handlers.NewPresetHandler(st)
			r.Post("/presets", presetH.Create)
			r.Get("/presets", presetH.List)
			r.Patch("/presets/{id}", presetH.Update)
			r.Delete("/presets/{id}", presetH.Delete)
		})
	})

	return &Server{cfg: cfg, router: router, hub: h}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: readTimeout,
		// WriteTimeout stays zero: WebSocket connections are long-lived.
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
