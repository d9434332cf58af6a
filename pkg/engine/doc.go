/*
Package engine drives the local container engine for training jobs.

The engine is the only component that talks to the container runtime. It
launches one container per job, streams the container's output, waits for
exit, and tears containers down on cancellation and cleanup. Everything
above it (runner, scheduler, producer) works in terms of job ids and
container ids, never raw API calls.

# Architecture

	                ┌──────────────┐
	 runner ───────▶│              │   unix:///$HOME/.docker/run/docker.sock
	 producer ─────▶│    Engine    │──▶ unix:///var/run/docker.sock
	 scheduler ────▶│  (lazy dial) │   $DOCKER_HOST
	 reconciler ───▶│              │
	                └──────────────┘

Endpoint discovery tries, in order: the user-local desktop socket, the
system socket, then the explicit override (DOCKER_HOST). The first
endpoint that answers a ping wins and is cached; failed dials are never
cached, so an engine that comes up later is found on the next call. A
worker therefore starts fine with no engine present; jobs fail fast with
the dial error until the engine appears.

# Container Shape

Every training container is created the same way:

  - Name: ml-job-<job-id>, plus a stoker.job=<job-id> label, so a
    restarted worker can find its containers again
  - Mounts: the job workspace at /workspace, the output directory at
    /output (paths already translated to host paths by pkg/workspace)
  - Command: a fixed bash script that finds requirements.txt and
    train.py (shallowest match), installs dependencies, and execs the
    training entry point
  - Env: PYTHONUNBUFFERED=1 so output streams line by line

GPU jobs attach their device in one of two ways. From a host-resident
worker, a device request pins the container to the device index. When the
worker itself runs in a container (detected via /.dockerenv), the nvidia
runtime is selected and NVIDIA_VISIBLE_DEVICES carries the index.

# Usage

Launching and supervising a container:

	eng := engine.New(cfg.DockerHost)

	id, err := eng.Run(ctx, engine.RunSpec{
		JobID:        job.ID,
		Image:        job.Image,
		Resource:     res,
		WorkspaceDir: ws.HostPath(jobDir),
		OutputDir:    ws.HostPath(outDir),
	})
	if err != nil {
		// launch failure: job fails with this error
	}

	_ = eng.StreamLogs(ctx, id, logFile) // returns at container exit
	code, err := eng.Wait(ctx, id)
	_ = eng.Remove(ctx, id)

Re-attaching after a worker restart:

	alive, _ := eng.Alive(ctx, id)
	if alive {
		_ = eng.ResumeLogs(ctx, id, logFile) // only new output
	}

# Error Handling

Stop and Remove treat a missing container as success: cancellation and
cleanup race with each other and with the runner, and whichever path gets
there first should not fail the others. All other errors are returned
with the short container id attached.

# Integration Points

  - pkg/runner: Run, StreamLogs/ResumeLogs, Wait, Remove during execution
  - pkg/scheduler: Alive and FindByName during startup recovery
  - pkg/reconciler: Alive when sweeping for abandoned jobs
  - pkg/producer: Stop and Remove during cancellation
  - pkg/health: Ping for the engine dependency check

# See Also

  - pkg/workspace for the host path translation the mounts depend on
  - pkg/runner for how engine errors map to job statuses
*/
package engine
