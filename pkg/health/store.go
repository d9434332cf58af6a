package health

import (
	"context"
	"fmt"
	"time"

	"github.com/stokehold/stoker/pkg/store"
)

// StoreChecker probes the job store with a ping
type StoreChecker struct {
	// Store is the store to probe
	Store store.Store

	// Timeout bounds each ping (default: 5 seconds)
	Timeout time.Duration
}

// NewStoreChecker creates a health checker for the job store
func NewStoreChecker(st store.Store) *StoreChecker {
	return &StoreChecker{
		Store:   st,
		Timeout: 5 * time.Second,
	}
}

// Check performs the store health check
func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Store.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("store ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "store reachable",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (c *StoreChecker) Type() CheckType {
	return CheckTypeStore
}

// WithTimeout sets the per-check timeout
func (c *StoreChecker) WithTimeout(timeout time.Duration) *StoreChecker {
	c.Timeout = timeout
	return c
}
