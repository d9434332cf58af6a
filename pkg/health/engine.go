package health

import (
	"context"
	"fmt"
	"time"

	"github.com/stokehold/stoker/pkg/engine"
)

// EngineChecker probes the container engine with a ping. A worker whose
// engine is down keeps running (jobs fail fast instead), so this check
// drives readiness and the engine-up gauge rather than process exit.
type EngineChecker struct {
	// Engine is the engine to probe
	Engine *engine.Engine

	// Timeout bounds each ping (default: 5 seconds)
	Timeout time.Duration
}

// NewEngineChecker creates a health checker for the container engine
func NewEngineChecker(eng *engine.Engine) *EngineChecker {
	return &EngineChecker{
		Engine:  eng,
		Timeout: 5 * time.Second,
	}
}

// Check performs the engine health check
func (c *EngineChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Engine.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("engine ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "engine reachable",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (c *EngineChecker) Type() CheckType {
	return CheckTypeEngine
}

// WithTimeout sets the per-check timeout
func (c *EngineChecker) WithTimeout(timeout time.Duration) *EngineChecker {
	c.Timeout = timeout
	return c
}
