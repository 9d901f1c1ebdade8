package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentalon/autopilot/internal/orchestrator"
	"github.com/opentalon/autopilot/internal/scheduler"
	"github.com/opentalon/autopilot/internal/version"
)

const defaultHistoryPage = 20

func newMux(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Get()})
	})
	mux.HandleFunc("GET /debug/history", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryPage
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, orch.History(limit))
	})
	mux.HandleFunc("GET /debug/providers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, orch.Registry().ListProviders())
	})
	mux.HandleFunc("GET /debug/schedules", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, sched.ListJobs())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
