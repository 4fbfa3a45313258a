// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadinessReporter is implemented by background consumers that need a
// partition assignment before they can do work.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness reports ready when every reporter is ready. With no reporters the
// service is always ready.
func Readiness(reporters map[string]ReadinessReporter) http.HandlerFunc {
	type component struct {
		Ready      bool    `json:"ready"`
		Partitions []int32 `json:"partitions,omitempty"`
	}
	type resp struct {
		Status     string               `json:"status"`
		Components map[string]component `json:"components,omitempty"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		out := resp{Status: "ready", Components: map[string]component{}}
		for name, rr := range reporters {
			ready, parts := rr.Readiness()
			out.Components[name] = component{Ready: ready, Partitions: parts}
			if !ready {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
