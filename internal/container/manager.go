// Package container launches and supervises the worker fleet as Docker
// containers. Workers are externally built images; the daemon only runs
// them, wired to its NATS and HTTP endpoints through the environment.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/scbe-labs/arachne/internal/config"
)

const labelPrefix = "arachne"

// Fleet manages the configured worker containers over the Docker Engine
// API.
type Fleet struct {
	docker  *client.Client
	cfg     config.FleetConfig
	mu      sync.RWMutex
	active  map[string]*WorkerInfo // worker id → container
	netDone bool
}

// WorkerInfo describes one running worker container.
type WorkerInfo struct {
	ContainerID string    `json:"container_id"`
	WorkerID    string    `json:"worker_id"`
	Role        string    `json:"role"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"started_at"`
}

func New(cfg config.FleetConfig) (*Fleet, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if cfg.Network == "" {
		cfg.Network = "arachne-net"
	}

	return &Fleet{
		docker: docker,
		cfg:    cfg,
		active: make(map[string]*WorkerInfo),
	}, nil
}

// ensureNetwork makes sure the fleet bridge network exists. Caller holds the
// lock.
func (f *Fleet) ensureNetwork(ctx context.Context) error {
	if f.netDone {
		return nil
	}

	if _, err := f.docker.NetworkInspect(ctx, f.cfg.Network, network.InspectOptions{}); err == nil {
		f.netDone = true
		return nil
	}

	if _, err := f.docker.NetworkCreate(ctx, f.cfg.Network, network.CreateOptions{
		Driver: "bridge",
	}); err != nil {
		return fmt.Errorf("create network %s: %w", f.cfg.Network, err)
	}

	f.netDone = true
	slog.Info("created docker network", "network", f.cfg.Network)
	return nil
}

// StartWorkers brings up every configured worker. Failures are logged per
// worker; the first error is returned after all have been attempted.
func (f *Fleet) StartWorkers(ctx context.Context) error {
	var firstErr error
	for _, spec := range f.cfg.Workers {
		if _, err := f.StartWorker(ctx, spec); err != nil {
			slog.Error("worker start failed", "worker", spec.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StartWorker launches one worker container. Idempotent per worker id: an
// already-tracked worker is returned as is.
func (f *Fleet) StartWorker(ctx context.Context, spec config.WorkerSpec) (*WorkerInfo, error) {
	if spec.ID == "" || spec.Role == "" {
		return nil, fmt.Errorf("worker spec needs id and role")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.active[spec.ID]; ok {
		return existing, nil
	}

	if err := f.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	name := containerName(spec.ID)

	// Remove any stale container left from a previous run under this name.
	stopTimeout := 5
	_ = f.docker.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &stopTimeout})
	_ = f.docker.ContainerRemove(ctx, name, dockercontainer.RemoveOptions{Force: true})

	image := spec.Image
	if image == "" {
		image = f.cfg.Image
	}

	containerCfg := &dockercontainer.Config{
		Image: image,
		Env:   workerEnv(f.cfg, spec),
		Labels: map[string]string{
			labelPrefix + ".worker": spec.ID,
			labelPrefix + ".role":   spec.Role,
		},
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds:       buildBinds(f.cfg.Mounts),
		NetworkMode: dockercontainer.NetworkMode(f.cfg.Network),
	}

	resp, err := f.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := f.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	info := &WorkerInfo{
		ContainerID: resp.ID,
		WorkerID:    spec.ID,
		Role:        spec.Role,
		Name:        name,
		StartedAt:   time.Now(),
	}
	f.active[spec.ID] = info

	slog.Info("worker container started", "worker", spec.ID, "role", spec.Role, "container", shortID(resp.ID))
	return info, nil
}

// StopWorker stops and removes one worker container. Unknown ids are a
// no-op.
func (f *Fleet) StopWorker(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, ok := f.active[workerID]
	if !ok {
		return nil
	}

	stopTimeout := 10
	if err := f.docker.ContainerStop(ctx, info.ContainerID, dockercontainer.StopOptions{Timeout: &stopTimeout}); err != nil {
		slog.Warn("worker stop failed, forcing removal", "container", shortID(info.ContainerID), "error", err)
	}
	if err := f.docker.ContainerRemove(ctx, info.ContainerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("worker remove failed", "container", shortID(info.ContainerID), "error", err)
	}

	delete(f.active, workerID)
	slog.Info("worker container stopped", "worker", workerID)
	return nil
}

// StopAll tears down every tracked worker, on daemon shutdown.
func (f *Fleet) StopAll(ctx context.Context) {
	f.mu.RLock()
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	f.mu.RUnlock()

	for _, id := range ids {
		_ = f.StopWorker(ctx, id)
	}
}

// ListRunning returns the workers this daemon instance is tracking.
func (f *Fleet) ListRunning() []WorkerInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(f.active))
	for _, info := range f.active {
		out = append(out, *info)
	}
	return out
}

// CleanupStale removes labeled worker containers that this instance is not
// tracking, typically leftovers from a crashed daemon.
func (f *Fleet) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs(filters.Arg("label", labelPrefix+".worker"))
	containers, err := f.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	f.mu.RLock()
	tracked := make(map[string]bool, len(f.active))
	for _, info := range f.active {
		tracked[info.ContainerID] = true
	}
	f.mu.RUnlock()

	for _, c := range containers {
		if tracked[c.ID] {
			continue
		}
		slog.Info("removing stale worker container", "container", shortID(c.ID))
		_ = f.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
	}
	return nil
}

func containerName(workerID string) string {
	return "arachne-worker-" + workerID
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
