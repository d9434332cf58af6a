package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/types"
)

// Mount points inside every training container.
const (
	workspaceTarget = "/workspace"
	outputTarget    = "/output"
)

// labelJob marks containers launched by a worker so they can be found
// again by name or label after a restart.
const labelJob = "stoker.job"

// RunSpec describes one training container to launch.
type RunSpec struct {
	JobID        string
	Image        string
	Resource     types.Resource
	WorkspaceDir string   // host path bound at /workspace
	OutputDir    string   // host path bound at /output
	Env          []string // extra environment, KEY=VALUE
}

// Engine drives the local container engine over its HTTP API.
//
// The connection is dialed lazily on first use so a worker can start and
// keep serving cancellations while the engine is down; jobs fail fast with
// the dial error instead. Only a successful dial is cached, so a recovered
// engine is picked up on the next call.
type Engine struct {
	mu   sync.Mutex
	cli  *client.Client
	host string // explicit endpoint override, usually DOCKER_HOST

	inContainer bool
	logger      zerolog.Logger
}

// New returns an Engine that connects following the endpoint order in
// socketCandidates. host is the optional explicit override tried last.
func New(host string) *Engine {
	return &Engine{
		host:        host,
		inContainer: runningInContainer(),
		logger:      log.WithComponent("engine"),
	}
}

// Connect dials the engine now instead of on first use. Callers that can
// run degraded, like the worker at startup, log the error and move on.
func (e *Engine) Connect(ctx context.Context) error {
	_, err := e.apiClient(ctx)
	return err
}

// Ping verifies the engine is reachable, dialing first if needed.
func (e *Engine) Ping(ctx context.Context) error {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return err
	}
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}
	return nil
}

// apiClient returns the cached client or walks the socket candidates until
// one answers a ping. Failures are returned, never cached.
func (e *Engine) apiClient(ctx context.Context) (*client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cli != nil {
		return e.cli, nil
	}

	candidates := socketCandidates(e.host)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no container engine endpoint found: no socket at %s or %s and no explicit host configured", userSocketPath(), systemSocketPath)
	}

	var failures []string
	for _, endpoint := range candidates {
		cli, err := client.NewClientWithOpts(client.WithHost(endpoint), client.WithAPIVersionNegotiation())
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		if _, err := cli.Ping(ctx); err != nil {
			cli.Close()
			failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}

		e.logger.Info().Str("endpoint", endpoint).Msg("Connected to container engine")
		e.cli = cli
		return cli, nil
	}

	return nil, fmt.Errorf("failed to connect to container engine: %s", strings.Join(failures, "; "))
}

// Run creates and starts the training container for spec and returns the
// engine-assigned container id.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (string, error) {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return "", err
	}

	cfg, hostCfg := buildConfig(spec, e.inContainer)
	name := types.ContainerName(spec.JobID)

	created, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container for job %s: %w", spec.JobID, err)
	}

	if err := cli.ContainerStart(ctx, created.ID, dockertypes.ContainerStartOptions{}); err != nil {
		// Don't leave the created-but-never-started container behind.
		_ = cli.ContainerRemove(ctx, created.ID, dockertypes.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container for job %s: %w", spec.JobID, err)
	}

	e.logger.Info().
		Str("job_id", spec.JobID).
		Str("container_id", short(created.ID)).
		Str("image", spec.Image).
		Str("resource", spec.Resource.String()).
		Msg("Container started")
	return created.ID, nil
}

// buildConfig assembles the engine-side request: the training command, the
// workspace and output binds, and the device attachment for the resource.
//
// GPU attachment takes one of two shapes. Talking to the engine from the
// host, a device request pins the container to the device index. When the
// worker itself runs inside a container the nvidia runtime is selected and
// NVIDIA_VISIBLE_DEVICES carries the index instead.
func buildConfig(spec RunSpec, inContainer bool) (*container.Config, *container.HostConfig) {
	env := []string{"PYTHONUNBUFFERED=1"}
	env = append(env, spec.Env...)

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.WorkspaceDir, Target: workspaceTarget},
			{Type: mount.TypeBind, Source: spec.OutputDir, Target: outputTarget},
		},
	}

	if spec.Resource.Kind == types.ResourceKindGPU {
		if inContainer {
			hostCfg.Runtime = "nvidia"
			env = append(env, "NVIDIA_VISIBLE_DEVICES="+spec.Resource.DeviceIndex())
		} else {
			hostCfg.Resources = container.Resources{
				DeviceRequests: []container.DeviceRequest{{
					DeviceIDs:    []string{spec.Resource.DeviceIndex()},
					Capabilities: [][]string{{"gpu"}},
				}},
			}
		}
	}

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        TrainingCommand(),
		Env:        env,
		WorkingDir: workspaceTarget,
		Labels:     map[string]string{labelJob: spec.JobID},
	}
	return cfg, hostCfg
}

// StreamLogs copies the container's combined stdout and stderr into w from
// the start of the stream, returning once the container exits.
func (e *Engine) StreamLogs(ctx context.Context, containerID string, w io.Writer) error {
	return e.copyLogs(ctx, containerID, "all", w)
}

// ResumeLogs is StreamLogs for a re-attached container: only output
// produced after the call is copied, so lines already captured on disk are
// not repeated.
func (e *Engine) ResumeLogs(ctx context.Context, containerID string, w io.Writer) error {
	return e.copyLogs(ctx, containerID, "0", w)
}

// FollowLogs opens the raw multiplexed log stream, following until the
// container exits. Most callers want StreamLogs, which demultiplexes.
func (e *Engine) FollowLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return e.logStream(ctx, containerID, "all")
}

func (e *Engine) logStream(ctx context.Context, containerID, tail string) (io.ReadCloser, error) {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := cli.ContainerLogs(ctx, containerID, dockertypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log stream for container %s: %w", short(containerID), err)
	}
	return stream, nil
}

func (e *Engine) copyLogs(ctx context.Context, containerID, tail string, w io.Writer) error {
	stream, err := e.logStream(ctx, containerID, tail)
	if err != nil {
		return err
	}
	defer stream.Close()

	// The stream carries framed stdout and stderr; interleave both into
	// the same writer in arrival order.
	if _, err := stdcopy.StdCopy(w, w, stream); err != nil && ctx.Err() == nil {
		return fmt.Errorf("log stream for container %s ended: %w", short(containerID), err)
	}
	return nil
}

// Wait blocks until the container is no longer running and returns its
// exit code.
func (e *Engine) Wait(ctx context.Context, containerID string) (int64, error) {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return 0, err
	}

	statusCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("container %s exited with engine error: %s", short(containerID), status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return 0, fmt.Errorf("failed to wait for container %s: %w", short(containerID), err)
	}
}

// Stop asks the engine to stop the container, escalating to SIGKILL after
// grace. A container that is already gone counts as stopped.
func (e *Engine) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return err
	}

	seconds := int(grace.Seconds())
	err = cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", short(containerID), err)
	}
	return nil
}

// Remove force-removes the container. Removal races with the other
// cleanup paths, so a missing container is success.
func (e *Engine) Remove(ctx context.Context, containerID string) error {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return err
	}

	err = cli.ContainerRemove(ctx, containerID, dockertypes.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", short(containerID), err)
	}
	return nil
}

// Alive reports whether the container exists and is still running.
func (e *Engine) Alive(ctx context.Context, containerID string) (bool, error) {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return false, err
	}

	info, err := cli.ContainerInspect(ctx, containerID)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", short(containerID), err)
	}
	return info.State != nil && info.State.Running, nil
}

// FindByName resolves a container id from its exact name, returning the
// empty string when no such container exists in any state.
func (e *Engine) FindByName(ctx context.Context, name string) (string, error) {
	cli, err := e.apiClient(ctx)
	if err != nil {
		return "", err
	}

	// The name filter matches substrings, so confirm exact matches only.
	list, err := cli.ContainerList(ctx, dockertypes.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

// Close releases the cached connection, if any.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cli == nil {
		return nil
	}
	err := e.cli.Close()
	e.cli = nil
	return err
}

// runningInContainer detects a containerized worker, which changes how
// GPUs are attached (see buildConfig).
func runningInContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
