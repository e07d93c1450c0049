// Package health aggregates named component checks into one readiness view.
package health

import (
	"pairs_trader/internal/core"
	"sync"
)

// HealthManager collects named health checks and reports on them as a
// group. Checks run at query time on the caller's goroutine.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager. A nil logger is
// accepted and silences registration logging.
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]func() error)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the check for a component.
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	hm.checks[component] = check
	hm.mu.Unlock()

	if hm.logger != nil {
		hm.logger.Debug("registered health check", "component", component)
	}
}

// GetStatus runs every check and reports per-component results.
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for component, check := range hm.snapshot() {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes. An empty
// manager is healthy.
func (hm *HealthManager) IsHealthy() bool {
	for _, check := range hm.snapshot() {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// snapshot copies the check map so probes run outside the lock; a slow
// check must not block registration.
func (hm *HealthManager) snapshot() map[string]func() error {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	checks := make(map[string]func() error, len(hm.checks))
	for component, check := range hm.checks {
		checks[component] = check
	}
	return checks
}
