// Package observability builds the framework's operational HTTP surface
// — /health, /ready, /metrics — on go-chi/chi/v5, mirroring the
// teacher's cmd/platform/main.go router setup (same middleware stack:
// RequestID, RealIP, Logger, Recoverer, Timeout) and
// its healthHandler/readyHandler pair, generalized from checking
// database/KurrentDB/OPA specifically to checking an arbitrary set of
// named Checker functions the caller registers (one per backend the
// Builder wires in).
package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/serbia-gov/eventflow/metrics"
)

// Checker reports whether a dependency (event store, postgres pool,
// checkpoint store, ...) is currently reachable.
type Checker func(r *http.Request) error

// Mux builds a chi.Router exposing the standard operational endpoints.
// checks is consulted by /ready; an empty map means /ready always
// reports healthy.
func Mux(checks map[string]Checker) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(checks))
	r.Handle("/metrics", metrics.Handler())

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		allReady := true
		for name, check := range checks {
			if err := check(r); err != nil {
				results[name] = "not ready: " + err.Error()
				allReady = false
			} else {
				results[name] = "ready"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if allReady {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ready":  allReady,
			"checks": results,
		})
	}
}
