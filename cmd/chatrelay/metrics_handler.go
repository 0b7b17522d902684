package main

import (
	"encoding/json"
	"net/http"

	"chatrelay/internal/metrics"
	"chatrelay/internal/service"
	"chatrelay/internal/tracing"
)

// handleMetrics serves a JSON snapshot of the in-memory metrics
// registry: submit/dispatch pipeline counters, latency timers, and the
// pending-backlog gauge.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			// Headers are already out; nothing to do but log it.
			s.logger.WithError(err).
				WithField(service.LogFieldRequestID, tracing.GetRequestID(r.Context())).
				Error("Failed to encode metrics snapshot")
		}
	}
}
