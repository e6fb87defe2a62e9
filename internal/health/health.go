// Package health serves the liveness and readiness probes of the scamguard
// binaries.
//
// /healthz answers 200 while the process serves HTTP. /readyz runs every
// registered [Check] concurrently and answers 503 when one of them fails or
// when the process is draining for shutdown.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scamguard/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// ErrDraining is reported by /readyz once [Handler.Drain] was called.
var ErrDraining = errors.New("shutting down")

// Check is a named readiness probe. Fn returns nil when the dependency is
// usable and must honour ctx.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Breaker returns a Check that fails while cb is open. A half-open breaker is
// reported ready so that probe traffic can reach the dependency.
func Breaker(name string, cb *resilience.CircuitBreaker) Check {
	return Check{Name: name, Fn: func(context.Context) error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}}
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkReport `json:"checks,omitempty"`
}

type checkReport struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Handler serves /healthz and /readyz. The check list is fixed at
// construction.
type Handler struct {
	checks   []Check
	draining atomic.Bool
}

// New returns a Handler evaluating checks on every /readyz request.
func New(checks ...Check) *Handler {
	return &Handler{checks: append([]Check(nil), checks...)}
}

// Drain makes /readyz fail from now on so load balancers stop routing new
// calls while in-flight ones finish.
func (h *Handler) Drain() { h.draining.Store(true) }

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checks in parallel, each with its own [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, report{Status: "fail", Checks: map[string]checkReport{
			"server": {Status: "fail", Error: ErrDraining.Error(), Duration: "0s"},
		}})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]checkReport, len(h.checks))
		failed  bool
	)
	var g errgroup.Group
	for _, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Fn(ctx)

			cr := checkReport{Status: "ok", Duration: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				cr.Status = "fail"
				cr.Error = err.Error()
			}
			mu.Lock()
			results[c.Name] = cr
			failed = failed || err != nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := report{Status: "ok", Checks: results}
	code := http.StatusOK
	if failed {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
