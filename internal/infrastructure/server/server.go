// Package server exposes the operational health endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"sync"
	"time"
)

// HealthServer serves /health and /status. /health answers readiness
// probes with a 503 when any registered component check fails; /status
// merges operator-set fields with the per-component results.
type HealthServer struct {
	port   int
	logger core.ILogger
	srv    *http.Server
	mu     sync.RWMutex
	status map[string]string
	hm     core.IHealthMonitor
}

func NewHealthServer(port int, logger core.ILogger, hm core.IHealthMonitor) *HealthServer {
	return &HealthServer{
		port:   port,
		logger: logger.WithField("component", "health_server"),
		status: make(map[string]string),
		hm:     hm,
	}
}

// Start begins serving on the configured port without blocking.
func (s *HealthServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting health server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *HealthServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping health server")
	return s.srv.Shutdown(ctx)
}

// Run serves until ctx is canceled, then shuts down. It satisfies the
// bootstrap runner contract.
func (s *HealthServer) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// UpdateStatus sets an operator-visible field on /status, such as the
// trading mode or build version.
func (s *HealthServer) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()

	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
		"targets": map[string]interface{}{
			"active":             metrics.GetActiveTargets(),
			"remaining_notional": metrics.GetRemainingNotional(),
		},
	}

	code := http.StatusOK
	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	merged := make(map[string]string)
	s.mu.RLock()
	for k, v := range s.status {
		merged[k] = v
	}
	s.mu.RUnlock()

	if s.hm != nil {
		for k, v := range s.hm.GetStatus() {
			merged[k] = v
		}
	}

	data, _ := json.Marshal(merged)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
