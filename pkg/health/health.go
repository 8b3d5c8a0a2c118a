// Package health runs registered dependency checks in parallel and serves the
// aggregate as liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the worst component status plus every component's result.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Ready reports whether the service can take traffic: degraded optional
// dependencies still count as ready.
func (r Report) Ready() bool { return r.Status != StatusDown }

type namedCheck struct {
	name  string
	check Check
}

// Checker holds the registered checks. Each check runs under its own
// timeout so one hung dependency cannot stall the probe.
type Checker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		timeout: 2 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds a check, replacing any earlier one with the same name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = slices.DeleteFunc(c.checks, func(nc namedCheck) bool { return nc.name == name })
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = c.probe(ctx, nc.check)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	for i, nc := range checks {
		res := results[i]
		report.Components[nc.name] = res
		if res.Status.severity() > report.Status.severity() {
			report.Status = res.Status
		}
		if res.Status != StatusUp {
			c.logger.Debug("component unhealthy", "name", nc.name, "status", res.Status, "message", res.Message)
		}
	}
	return report
}

func (c *Checker) probe(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	res := check(ctx)
	res.Latency = time.Since(start).Round(time.Microsecond).String()
	return res
}

// Ping marks the component down when probe fails.
func Ping(probe func(ctx context.Context) error) Check {
	return probeCheck(probe, StatusDown)
}

// Degradable marks an optional component degraded when probe fails.
func Degradable(probe func(ctx context.Context) error) Check {
	return probeCheck(probe, StatusDegraded)
}

func probeCheck(probe func(ctx context.Context) error, onError Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := probe(ctx); err != nil {
			return ComponentHealth{Status: onError, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Mount registers /health/live and /health/ready on mux. Readiness answers
// 503 only when a required component is down.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if !report.Ready() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
