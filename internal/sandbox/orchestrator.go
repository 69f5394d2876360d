package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/metrics"
	"github.com/cruciblehq/crucible/internal/vault"
)

// Orchestrator owns the engine handle and keeps the registry in sync with
// the containers actually running.
type Orchestrator struct {
	engine   *Engine
	registry *Registry
	cfg      config.SandboxConfig
	auth     config.AuthConfig
	dataDir  string
}

func NewOrchestrator(engine *Engine, registry *Registry, cfg config.SandboxConfig, auth config.AuthConfig, dataDir string) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		auth:     auth,
		dataDir:  dataDir,
	}
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// WorkspacePath is the host directory bind-mounted into the conversation's
// container at /workspace.
func (o *Orchestrator) WorkspacePath(convID string) string {
	return filepath.Join(o.dataDir, "conversations", convID)
}

// containerName derives the deterministic container name for a conversation.
// Determinism is what lets a restart clean up leftovers from a crashed
// process before creating the replacement.
func containerName(convID string) string {
	name := convID
	if len(name) > 24 {
		name = name[:24]
	}
	return "crucible-" + name
}

// StartContainer brings up the conversation's container. Idempotent: if a
// container is already starting or running, nothing new is created.
func (o *Orchestrator) StartContainer(ctx context.Context, convID, userID string) (string, error) {
	if !o.registry.Begin(convID, userID) {
		o.registry.Touch(convID)
		id, _ := o.registry.ContainerID(convID)
		return id, nil
	}

	containerID, err := o.startLocked(ctx, convID, userID)
	if err != nil {
		o.registry.Abort(convID)
		metrics.ContainerStartsFailed.Inc()
		return "", err
	}

	if !o.registry.Commit(convID, containerID) {
		// The conversation was torn down while the start was in flight.
		slog.Warn("sandbox: conversation removed during start, discarding container",
			"conversation_id", convID, "container_id", containerID)
		if err := o.engine.StopContainer(ctx, containerID, o.cfg.StopGraceSecs); err != nil {
			slog.Warn("sandbox: stop failed, forcing removal", "conversation_id", convID, "error", err)
		}
		if err := o.engine.RemoveContainer(ctx, containerID); err != nil {
			slog.Warn("sandbox: remove failed", "conversation_id", convID, "error", err)
		}
		return "", fmt.Errorf("conversation %s removed during container start", convID)
	}
	metrics.ContainerStarts.Inc()
	metrics.ContainersRunning.Inc()
	slog.Info("sandbox: container started", "conversation_id", convID, "container_id", containerID)
	return containerID, nil
}

func (o *Orchestrator) startLocked(ctx context.Context, convID, userID string) (string, error) {
	token, err := vault.CreateContainerToken(convID, userID, o.auth.JWTSecret, o.auth.ContainerTokenTTL)
	if err != nil {
		return "", fmt.Errorf("mint container token: %w", err)
	}

	workspace, err := o.ensureWorkspace(convID)
	if err != nil {
		return "", err
	}

	name := containerName(convID)

	// A crashed process can leave a stopped container holding the name.
	if err := o.engine.RemoveContainer(ctx, name); err == nil {
		slog.Warn("sandbox: removed leftover container", "name", name)
	}

	containerID, err := o.engine.CreateContainer(ctx, CreateSpec{
		Name:  name,
		Image: o.cfg.Image,
		Env: []string{
			"BACKEND_WS_URL=" + o.cfg.BackendWSURL,
			"CONTAINER_TOKEN=" + token,
			"CONVERSATION_ID=" + convID,
		},
		WorkspacePath: workspace,
		MemoryBytes:   o.cfg.MemoryBytes,
		NanoCPUs:      o.cfg.NanoCPUs,
	})
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := o.engine.StartContainer(ctx, containerID); err != nil {
		_ = o.engine.RemoveContainer(ctx, containerID)
		return "", fmt.Errorf("start container: %w", err)
	}
	return containerID, nil
}

// ensureWorkspace creates the conversation workspace if missing and resolves
// it to a canonical absolute path. Docker rejects relative bind sources, so
// a path that cannot be canonicalized is a hard failure.
func (o *Orchestrator) ensureWorkspace(convID string) (string, error) {
	path := o.WorkspacePath(convID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", path, err)
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The directory may have been reaped between MkdirAll and here.
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("recreate workspace %s: %w", path, err)
		}
		canonical, err = filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("canonicalize workspace %s: %w", path, err)
		}
	}

	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalize workspace %s: %w", path, err)
	}
	return canonical, nil
}

// StopContainer tears down the conversation's container: registry entry out
// first, then a graceful stop, then force-remove. Unknown conversations are
// an error.
func (o *Orchestrator) StopContainer(ctx context.Context, convID string) error {
	containerID, ok := o.registry.Remove(convID)
	if !ok {
		return fmt.Errorf("no container registered for conversation %s", convID)
	}

	if err := o.engine.StopContainer(ctx, containerID, o.cfg.StopGraceSecs); err != nil {
		slog.Warn("sandbox: stop failed, forcing removal", "conversation_id", convID, "error", err)
	}
	if err := o.engine.RemoveContainer(ctx, containerID); err != nil {
		slog.Warn("sandbox: remove failed", "conversation_id", convID, "error", err)
	}

	metrics.ContainersRunning.Dec()
	slog.Info("sandbox: container stopped", "conversation_id", convID, "container_id", containerID)
	return nil
}

// CleanupIdleContainers stops every container idle past the configured
// timeout. Called by the supervisor on a fixed interval.
func (o *Orchestrator) CleanupIdleContainers(ctx context.Context) {
	for _, convID := range o.registry.Idle(o.cfg.IdleTimeout) {
		slog.Info("sandbox: reaping idle container", "conversation_id", convID)
		if err := o.StopContainer(ctx, convID); err != nil {
			slog.Warn("sandbox: idle reap failed", "conversation_id", convID, "error", err)
		} else {
			metrics.ContainersReaped.Inc()
		}
	}
}

// RemoveWorkspace deletes the conversation's workspace directory. Called when
// the conversation itself is deleted.
func (o *Orchestrator) RemoveWorkspace(convID string) error {
	return os.RemoveAll(o.WorkspacePath(convID))
}
