package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cruciblehq/crucible/internal/chat"
	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/hub"
	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/server"
	"github.com/cruciblehq/crucible/internal/store"
	"github.com/cruciblehq/crucible/internal/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := store.Migrate(cfg.Database.URL); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

// purgeExpiredTokens drops expired refresh tokens once an hour so the table
// does not accumulate dead rows.
func purgeExpiredTokens(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpiredRefreshTokens(ctx)
			if err != nil {
				slog.Warn("refresh token purge failed", "error", err)
			} else if n > 0 {
				slog.Info("expired refresh tokens purged", "count", n)
			}
		}
	}
}

func runServe() error {
	cfg := config.Load()
	cfg.MustSecrets()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("starting crucible backend", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if cfg.Otel.Enabled {
		shutdown, err := tracing.InitTracer()
		if err != nil {
			slog.Warn("tracing init failed", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(cfg.Database.URL); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("database connected")

	engine, err := sandbox.NewEngine(cfg.Sandbox.DockerSock)
	if err != nil {
		slog.Error("container engine connection failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		slog.Warn("container engine unreachable at startup", "error", err)
	}

	st := store.New(pool)
	h := hub.New()
	registry := sandbox.NewRegistry()
	orchestrator := sandbox.NewOrchestrator(engine, registry, cfg.Sandbox, cfg.Auth, cfg.Server.DataDir)
	chatSvc := chat.NewService(st, cfg.Auth.EncryptionKey, cfg.Sandbox.HistoryLimit)

	supervisor := sandbox.NewSupervisor(orchestrator, cfg.Sandbox.ReapInterval)
	go supervisor.Run(ctx)
	go purgeExpiredTokens(ctx, st)

	srv := server.NewServer(cfg, st, h, chatSvc, orchestrator, engine)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		return err
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Stop every registered container so no orphans survive the process.
	for _, info := range registry.ListAll() {
		if err := orchestrator.StopContainer(shutdownCtx, info.ConversationID); err != nil {
			slog.Warn("container shutdown failed", "conversation_id", info.ConversationID, "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}
