package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ryanbastic/go-fieldmap/internal/circuitbreaker"
)

// Pinger is satisfied by *pgxpool.Pool and storage.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter is satisfied by *storage.Guarded.
type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	backends map[string]Pinger
	breakers map[string]BreakerReporter
	logger   *slog.Logger
}

func NewHealthHandler(backends map[string]Pinger, breakers map[string]BreakerReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{backends: backends, breakers: breakers, logger: logger}
}

type backendStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type readyzResponse struct {
	Status   string                   `json:"status"`
	Backends map[string]backendStatus `json:"backends,omitempty"`
	Breakers map[string]string        `json:"breakers,omitempty"`
}

// Livez reports that the process can serve HTTP.
func (h *HealthHandler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every backend concurrently and reports breaker states.
// An open breaker makes the service unready.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	type result struct {
		name   string
		status backendStatus
	}

	var (
		wg      sync.WaitGroup
		results = make(chan result, len(h.backends))
	)

	for name, p := range h.backends {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			start := time.Now()
			err := p.Ping(ctx)
			st := backendStatus{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "error"
				st.Error = err.Error()
			}
			results <- result{name: name, status: st}
		}(name, p)
	}

	wg.Wait()
	close(results)

	resp := readyzResponse{Status: "ok"}
	healthy := true
	if len(h.backends) > 0 {
		resp.Backends = make(map[string]backendStatus, len(h.backends))
	}
	for r := range results {
		resp.Backends[r.name] = r.status
		if r.status.Status != "ok" {
			healthy = false
		}
	}
	if len(h.breakers) > 0 {
		resp.Breakers = make(map[string]string, len(h.breakers))
	}
	for name, b := range h.breakers {
		st := b.BreakerState()
		resp.Breakers[name] = st.String()
		if st == circuitbreaker.Open {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", "backends", resp.Backends, "breakers", resp.Breakers)
	}
	writeJSON(w, status, resp)
}
