/*
Package config loads and validates Stoker's process configuration.

Configuration is environment-first because the same variables are a shared
contract with the producer side of the deployment: the worker and whatever
writes submissions into the store must agree on STORE_URL and DATA_DIR.
A stoker.yaml file and built-in defaults fill in the rest.

# Precedence

 1. Environment variables (highest; exact names, no prefix)
 2. Config file (stoker.yaml in . or /etc/stoker, or --config path)
 3. Built-in defaults (lowest)

A .env file in the working directory is loaded first via godotenv and then
participates as ordinary environment.

# Keys

Shared deployment contract:

	STORE_URL       shared key-value store endpoint
	                redis://host:port[/db], rediss://..., or bolt://<path>
	                (default redis://localhost:6379)
	DATA_DIR        root of uploads/, jobs/, outputs/ (default ./data)
	HOST_DATA_DIR   set only when the worker runs inside a container: the
	                host path that maps to DATA_DIR, used to rewrite
	                bind-mount sources for sibling containers
	DOCKER_HOST     explicit engine endpoint; tried after the per-user
	                and system sockets in discovery order

Worker tuning:

	LOG_LEVEL            debug|info|warn|error (default info)
	LOG_JSON             structured JSON process logs (default false)
	METRICS_ADDR         listen address for /metrics and /healthz;
	                     empty disables (default empty)
	POLL_INTERVAL        empty-queue sleep (default 5s)
	BUSY_DELAY           sleep after a busy-resource requeue (default 2s)
	CANCEL_GRACE         container stop grace on cancel (default 5s)
	RECONCILE_INTERVAL   periodic supervision sweep (default 30s)

# Usage

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	st, err := store.Open(ctx, cfg.StoreURL)
	ws := workspace.New(cfg.DataDir, cfg.HostDataDir)

pkg/workspace derives the uploads/jobs/outputs paths from DataDir; config
only carries the roots.

# Validation

Loading fails fast on invalid values rather than letting a worker start
with a half-usable setup. Validation uses go-playground/validator struct
tags plus two custom rules shared with the producer package:

  - store_url: the scheme must name a supported backend
  - resource: "cpu" or "gpu:<n>" (used on submission requests)

NewValidator exposes the configured validator so pkg/producer applies the
same resource/image rules to submissions that config applies to itself.

# Integration Points

  - cmd/stoker: MustLoad in command setup; flags may override fields
  - pkg/store: Open(cfg.StoreURL)
  - pkg/engine: cfg.DockerHost as the discovery-order override
  - pkg/workspace: DataDir/HostDataDir for layout and mount rewriting
  - pkg/scheduler, pkg/reconciler: poll/busy/reconcile intervals
  - pkg/producer: NewValidator for submission validation

# See Also

  - pkg/log for what LOG_LEVEL and LOG_JSON configure
  - pkg/store for STORE_URL scheme handling
*/
package config
