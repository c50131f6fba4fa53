package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"banjir.dev/floodwatch/internal/store"
	"banjir.dev/floodwatch/pkg/metrics"
)

const (
	queryTimeout        = 5 * time.Second
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check and operational endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Dashboard websocket
	mux.HandleFunc("GET /ws", s.hub.Handler(s.logger.With("component", "ws-handler")))

	// Read-only JSON API for dashboard bootstrap
	mux.HandleFunc("GET /api/flood/summary", s.handleFloodSummary)
	mux.HandleFunc("GET /api/flood/warnings", s.handleFloodWarnings)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/summary", s.handleDeviceSummary)
	mux.HandleFunc("GET /api/device/{code}/readings", s.handleDeviceReadings)
	mux.HandleFunc("GET /api/readings/latest", s.handleLatestReadings)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/location/{id}/history", s.handleLocationHistory)

	return mux
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// handleFloodSummary serves the per-status location counts.
func (s *Server) handleFloodSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	summary, err := s.locations.GetFloodSummary(ctx)
	if err != nil {
		s.logger.Error("failed to fetch flood summary", "error", err)
		http.Error(w, "Failed to fetch flood summary", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, summary)
}

// handleFloodWarnings serves the locations currently above AMAN.
func (s *Server) handleFloodWarnings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	warnings, err := s.locations.GetActiveFloodWarnings(ctx)
	if err != nil {
		s.logger.Error("failed to fetch flood warnings", "error", err)
		http.Error(w, "Failed to fetch flood warnings", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, warnings)
}

// handleDevices serves the full device list.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	devices, err := s.devices.List(ctx)
	if err != nil {
		s.logger.Error("failed to fetch devices", "error", err)
		http.Error(w, "Failed to fetch devices", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, devices)
}

// handleDeviceSummary serves the aggregate connectivity counts.
func (s *Server) handleDeviceSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	total, connected, disconnected, err := s.devices.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("failed to fetch device summary", "error", err)
		http.Error(w, "Failed to fetch device summary", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]int64{
		"total":        total,
		"connected":    connected,
		"disconnected": disconnected,
	})
}

// handleDeviceReadings serves raw readings for one device over a time range.
// Query params "start" and "end" are RFC 3339; end defaults to now, start to
// 24 hours before end.
func (s *Server) handleDeviceReadings(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	end := time.Now().UTC()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid end time", http.StatusBadRequest)
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid start time", http.StatusBadRequest)
			return
		}
		start = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	logs, err := s.sensorLogs.Range(ctx, code, start, end)
	if err != nil {
		s.logger.Error("failed to fetch readings", "device", code, "error", err)
		http.Error(w, "Failed to fetch readings", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, logs)
}

// handleLatestReadings serves the in-memory latest reading per device.
func (s *Server) handleLatestReadings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.router.Latest().Snapshot())
}

// handleHistory serves recent status transitions across all locations.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	entries, err := s.history.Recent(ctx, historyLimit(r))
	if err != nil {
		s.logger.Error("failed to fetch history", "error", err)
		http.Error(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, entries)
}

// handleLocationHistory serves recent status transitions for one location.
func (s *Server) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid location ID", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	entries, err := s.history.RecentByLocation(ctx, uint(id), historyLimit(r))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Location not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to fetch location history", "location_id", id, "error", err)
		http.Error(w, "Failed to fetch location history", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func historyLimit(r *http.Request) int {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit
}
