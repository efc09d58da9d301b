package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/devsight/devsight/internal/store"
)

type reportRequest struct {
	DeveloperID   string `json:"developer_id"`
	DeveloperName string `json:"developer_name"`
	DeviceID      string `json:"device_id"`
	Description   string `json:"description"`
	ActivityType  string `json:"activity_type"`
}

type reportResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the full routing surface. Auth runs before route
// dispatch: any path other than the health probe needs the exact shared
// secret, unknown routes included, so probing the API without a key learns
// nothing but 401.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if r.Header.Get("X-API-Key") != s.keyFunc() {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid API key"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/report":
		s.handleReport(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/developers":
		s.handleDevelopers(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/stats":
		s.handleStats(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	body := http.MaxBytesReader(w, r.Body, maxReportBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Description == "" || req.ActivityType == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "description and activity_type are required"})
		return
	}

	id, err := s.store.AddReport(r.Context(), store.ReportInput{
		DeveloperID:   req.DeveloperID,
		DeveloperName: req.DeveloperName,
		DeviceID:      req.DeviceID,
		Description:   req.Description,
		ActivityType:  req.ActivityType,
		ReceivedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		s.logger.Error("report insert failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
		return
	}

	s.logger.Info("report accepted",
		"report_id", id,
		"developer_id", req.DeveloperID,
		"activity_type", req.ActivityType,
	)
	writeJSON(w, http.StatusOK, reportResponse{Success: true, ID: id})
}

func (s *Server) handleDevelopers(w http.ResponseWriter, r *http.Request) {
	devs, err := s.store.ListDevelopers(r.Context())
	if err != nil {
		s.logger.Error("developer listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
