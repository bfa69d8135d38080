package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fleet-audit/internal/audit"
	"fleet-audit/internal/config"
	"fleet-audit/internal/db"
	"fleet-audit/internal/detection"
	"fleet-audit/internal/logging"
	"fleet-audit/internal/models"
)

// Server represents the API server
type Server struct {
	db     *db.Database
	cfg    config.Config
	engine *audit.Engine
	router *mux.Router
}

// NewServer creates a new API server
func NewServer(database *db.Database, cfg config.Config) *Server {
	s := &Server{
		db:     database,
		cfg:    cfg,
		engine: audit.NewEngine(cfg),
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Vehicle endpoints
	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles", s.handleCreateVehicle).Methods("POST")
	s.router.HandleFunc("/api/v1/vehicles/{id}", s.handleGetVehicle).Methods("GET")

	// Ingestion endpoints
	s.router.HandleFunc("/api/v1/fuel/batch", s.handleBatchFuel).Methods("POST")
	s.router.HandleFunc("/api/v1/gps/batch", s.handleBatchGPS).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/batch", s.handleBatchJobs).Methods("POST")

	// Audit endpoint
	s.router.HandleFunc("/api/v1/audit", s.handleRunAudit).Methods("POST")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.db.ListVehicles()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if v.ID == "" || v.Name == "" || v.LicensePlate == "" {
		respondError(w, http.StatusBadRequest, "id, name, and license_plate are required")
		return
	}

	if err := s.db.InsertVehicle(&v); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	vehicle, err := s.db.GetVehicle(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (s *Server) handleBatchFuel(w http.ResponseWriter, r *http.Request) {
	var records []models.FuelRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	count, err := s.db.InsertFuelBatch(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

func (s *Server) handleBatchGPS(w http.ResponseWriter, r *http.Request) {
	var records []models.GPSPing
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	count, err := s.db.InsertGPSBatch(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

func (s *Server) handleBatchJobs(w http.ResponseWriter, r *http.Request) {
	var records []models.JobRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	count, err := s.db.InsertJobBatch(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

// auditRequest bounds the audit to a time window. Zero values mean
// everything stored.
type auditRequest struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req auditRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	fuel, err := s.db.ListFuel(req.Start, req.End)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	gps, err := s.db.ListGPS(req.Start, req.End)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobs, err := s.db.ListJobs(req.Start, req.End)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.engine.Run(r.Context(), detection.Inputs{Fuel: fuel, GPS: gps, Jobs: jobs})
	if err != nil {
		if errors.Is(err, audit.ErrNoData) {
			respondError(w, http.StatusUnprocessableEntity, "no data in the requested window")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, result, &meta{
		Total:   len(result.Consolidated),
		QueryMs: time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
