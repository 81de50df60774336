package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// readinessReport is the JSON body returned by the readiness probe.
type readinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// liveness answers 200 while the process can serve HTTP at all.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the configured timeout and
// answers 503 if any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	checks, healthy := RunChecks(ctx, s.logger, s.checkers)

	report := readinessReport{Status: "ready", Checks: checks}
	code := http.StatusOK
	if !healthy {
		report.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Status code is already written; the body only helps humans.
	_ = json.NewEncoder(w).Encode(report)
}

// RunChecks executes checkers concurrently and returns a per-component status
// map ("up" or "down: <err>") plus whether every component is healthy.
func RunChecks(ctx context.Context, log *slog.Logger, checkers []Checker) (map[string]string, bool) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		healthy = true
		status  = make(map[string]string, len(checkers))
	)

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// WARN, not ERROR: the orchestrator retries probes on its own.
				log.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				status[c.Name()] = fmt.Sprintf("down: %v", err)
				healthy = false
				return
			}
			status[c.Name()] = "up"
		}(checker)
	}

	wg.Wait()
	return status, healthy
}
