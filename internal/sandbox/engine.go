// Package sandbox runs one isolated Docker container per active conversation.
// The orchestrator owns the lifecycle; Engine is the thin Docker API wrapper
// underneath it.
package sandbox

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Engine wraps the Docker API client.
type Engine struct {
	api *client.Client
}

// NewEngine connects to the Docker daemon at the given socket path or TCP
// endpoint.
func NewEngine(dockerSock string) (*Engine, error) {
	var opts []client.Opt

	if strings.HasPrefix(dockerSock, "tcp://") {
		opts = append(opts, client.WithHost(dockerSock))
	} else {
		opts = append(opts,
			client.WithHost("unix://"+dockerSock),
			client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.DialTimeout("unix", dockerSock, 30*time.Second)
					},
				},
			}),
		)
	}

	api, err := client.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{api: api}, nil
}

// CreateSpec describes the container for one conversation.
type CreateSpec struct {
	Name          string
	Image         string
	Env           []string
	WorkspacePath string // host directory bound at /workspace
	MemoryBytes   int64
	NanoCPUs      int64
}

// CreateContainer creates the container and returns its ID. The container
// gets the conversation workspace as its only mount and host-gateway access
// so it can reach the backend WebSocket endpoint.
func (e *Engine) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Env:        spec.Env,
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.WorkspacePath,
			Target: "/workspace",
		}},
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	resp, err := e.api.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name:       spec.Name,
		Config:     cfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *Engine) StartContainer(ctx context.Context, id string) error {
	_, err := e.api.ContainerStart(ctx, id, client.ContainerStartOptions{})
	return err
}

// StopContainer stops the container, giving it timeout seconds before the
// daemon kills it.
func (e *Engine) StopContainer(ctx context.Context, id string, timeout int) error {
	_, err := e.api.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout})
	return err
}

// RemoveContainer force-removes the container and its anonymous volumes.
// Used both for normal teardown and to clear crash leftovers that still hold
// the deterministic name.
func (e *Engine) RemoveContainer(ctx context.Context, id string) error {
	_, err := e.api.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	return err
}

// Ping checks that the Docker daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.api.Ping(ctx, client.PingOptions{})
	return err
}

func (e *Engine) Close() error {
	return e.api.Close()
}
