package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp   ComponentStatus = "up"
	ComponentStatusDown ComponentStatus = "down"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms"`
}

// Check tests one dependency. A failing critical check makes the service
// unhealthy and not ready; a failing optional one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// Pinger is implemented by dependencies with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a Pinger.
func PingCheck(name string, critical bool, p Pinger) Check {
	return Check{Name: name, Critical: critical, Run: p.Ping}
}

// WritableDirCheck verifies that a file can be created in dir, creating
// dir first if needed.
func WritableDirCheck(name, dir string) Check {
	return Check{
		Name:     name,
		Critical: true,
		Run: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".healthcheck-*")
			if err != nil {
				return err
			}
			name := f.Name()
			_ = f.Close()
			return os.Remove(name)
		},
	}
}

// DirCheck verifies that dir exists and is a directory.
func DirCheck(name, dir string) Check {
	return Check{
		Name:     name,
		Critical: true,
		Run: func(context.Context) error {
			info, err := os.Stat(filepath.Clean(dir))
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return errors.New("not a directory")
			}
			return nil
		},
	}
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now().UTC(),
		Version:    s.cfg.Version,
		Components: make(map[string]ComponentHealth, len(s.checks)),
		Status:     HealthStatusHealthy,
	}

	for _, c := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := c.Run(cctx)
		cancel()

		ch := ComponentHealth{
			Status:    ComponentStatusUp,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			ch.Status = ComponentStatusDown
			ch.Message = fmt.Sprintf("%s check failed: %v", c.Name, err)
			if c.Critical {
				health.Status = HealthStatusUnhealthy
			} else if health.Status == HealthStatusHealthy {
				health.Status = HealthStatusDegraded
			}
		}
		health.Components[c.Name] = ch
	}
	return health
}

// handleHealth reports every component. Degraded still returns 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, statusCode, health)
}

// handleReady reports whether every critical dependency is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())
	if health.Status == HealthStatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleLive always succeeds while the process is serving.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
