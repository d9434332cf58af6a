package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/metrics"
)

// Monitor runs the registered checkers on an interval and pushes results
// into the metrics component registry and the dependency gauges
type Monitor struct {
	config   Config
	checkers []Checker

	mu       sync.RWMutex
	statuses map[CheckType]*Status

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewMonitor creates a monitor over the given checkers
func NewMonitor(config Config, checkers ...Checker) *Monitor {
	statuses := make(map[CheckType]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c.Type()] = NewStatus()
	}

	return &Monitor{
		config:   config,
		checkers: checkers,
		statuses: statuses,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("health"),
	}
}

// Start begins periodic checking. The first round runs immediately so
// the readiness endpoint converges fast after boot.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop stops the monitor and waits for the loop to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Healthy reports the current verdict for one dependency
func (m *Monitor) Healthy(t CheckType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[t]
	return ok && status.Healthy
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.checkAll()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) checkAll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		m.apply(checker.Type(), result)
	}
}

func (m *Monitor) apply(t CheckType, result Result) {
	m.mu.Lock()
	status := m.statuses[t]
	wasHealthy := status.Healthy

	if result.Healthy || !status.InStartPeriod(m.config) {
		status.Update(result, m.config)
	}
	healthy := status.Healthy
	m.mu.Unlock()

	metrics.UpdateComponent(string(t), healthy, result.Message)
	switch t {
	case CheckTypeStore:
		metrics.StoreUp.Set(boolToGauge(healthy))
	case CheckTypeEngine:
		metrics.EngineUp.Set(boolToGauge(healthy))
	}

	if wasHealthy && !healthy {
		m.logger.Warn().Str("dependency", string(t)).Str("reason", result.Message).Msg("Dependency unhealthy")
	} else if !wasHealthy && healthy {
		m.logger.Info().Str("dependency", string(t)).Msg("Dependency recovered")
	}
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
