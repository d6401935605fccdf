package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"
	"github.com/wricardo/metro-sim/game/config"
	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/internal/logging"
	"github.com/wricardo/metro-sim/transport/websocket"
)

// RequestIDHeader carries the request id in and out of the server
const RequestIDHeader = "X-Request-ID"

// Server represents the REST API server
type Server struct {
	service service.GameService
	hub     *websocket.Hub
	router  *mux.Router
	log     logging.Logger
	metrics http.Handler
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new API server. hub may be nil, in which case /ws
// is unavailable.
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)

	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Simulation
	api.HandleFunc("/sessions/{id}/state", s.handleGetWorldState).Methods("GET")
	api.HandleFunc("/sessions/{id}/advance", s.handleAdvance).Methods("POST")
	api.HandleFunc("/sessions/{id}/clock", s.handleClock).Methods("POST")

	// Stations
	api.HandleFunc("/sessions/{id}/stations", s.handlePlaceStation).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}", s.handleRemoveStation).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/stations/{sid}/move", s.handleMoveStation).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}/rename", s.handleRenameStation).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}/type", s.handleSetStationType).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}/repair", s.stationAction(s.service.RepairStation)).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}/construct", s.stationAction(s.service.StartConstruction)).Methods("POST")
	api.HandleFunc("/sessions/{id}/stations/{sid}/demolish", s.stationAction(s.service.DemolishStation)).Methods("POST")

	// Tunnels
	api.HandleFunc("/sessions/{id}/tunnels", s.handleCreateTunnel).Methods("POST")
	api.HandleFunc("/sessions/{id}/tunnels/{tid}", s.handleRemoveTunnel).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/tunnels/{tid}/control-point", s.handleMoveControlPoint).Methods("POST")
	api.HandleFunc("/sessions/{id}/tunnels/{tid}/control-point", s.handleClearControlPoint).Methods("DELETE")

	// Trains
	api.HandleFunc("/sessions/{id}/trains", s.handleAddTrain).Methods("POST")
	api.HandleFunc("/sessions/{id}/trains/{trid}", s.handleRemoveTrain).Methods("DELETE")

	// Configuration
	api.HandleFunc("/configs", s.handleListConfigs).Methods("GET")
	api.HandleFunc("/configs", s.handleCreateConfig).Methods("POST")
	api.HandleFunc("/configs/{name}", s.handleGetConfig).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags every request with an id and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log)
		w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))

		// The websocket upgrade needs the raw writer.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Int("duration_us", int(time.Since(start).Microseconds())),
		)
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": message, "code": status})
}

// errorStatus maps service and config errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, config.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCommandRejected):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.log).Error(r.Context(), "request failed", logging.Err(err))
	}
	respondError(w, status, err.Error())
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func pathID(r *http.Request, key string) (int, error) {
	raw := mux.Vars(r)[key]
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return id, nil
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigID string `json:"config_id,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := s.service.CreateSession(r.Context(), req.ConfigID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total := len(sessions)

	query := r.URL.Query()
	sortBy := query.Get("sort") // "created", "accessed" (default)
	order := query.Get("order") // "asc", "desc" (default)
	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		ti, tj := sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		}
		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Simulation Handlers

func (s *Server) handleGetWorldState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetWorldState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Millis int64 `json:"ms"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := s.service.Advance(r.Context(), mux.Vars(r)["id"], time.Duration(req.Millis)*time.Millisecond)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	var req service.ClockRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := s.service.SetClock(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// commandResponse writes a command outcome
func (s *Server) commandResponse(w http.ResponseWriter, r *http.Request, status int, result *service.CommandResult, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, status, result)
}

// Station Handlers

func (s *Server) handlePlaceStation(w http.ResponseWriter, r *http.Request) {
	var req service.PlaceStationRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.PlaceStation(r.Context(), mux.Vars(r)["id"], req)
	s.commandResponse(w, r, http.StatusCreated, result, err)
}

func (s *Server) handleRemoveStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.RemoveStation(r.Context(), mux.Vars(r)["id"], engine.StationID(id))
	s.commandResponse(w, r, http.StatusOK, result, err)
}

func (s *Server) handleMoveStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.MoveStation(r.Context(), mux.Vars(r)["id"], engine.StationID(id), req.X, req.Y)
	s.commandResponse(w, r, http.StatusOK, result, err)
}

func (s *Server) handleRenameStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.RenameStation(r.Context(), mux.Vars(r)["id"], engine.StationID(id), req.Name)
	s.commandResponse(w, r, http.StatusOK, result, err)
}

func (s *Server) handleSetStationType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Type engine.StationType `json:"type"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.SetStationType(r.Context(), mux.Vars(r)["id"], engine.StationID(id), req.Type)
	s.commandResponse(w, r, http.StatusOK, result, err)
}

type stationCommand func(ctx context.Context, sessionID string, id engine.StationID) (*service.CommandResult, error)

// stationAction adapts a body-less station command into a handler
func (s *Server) stationAction(cmd stationCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "sid")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := cmd(r.Context(), mux.Vars(r)["id"], engine.StationID(id))
		s.commandResponse(w, r, http.StatusOK, result, err)
	}
}

// Tunnel Handlers

func (s *Server) handleCreateTunnel(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTunnelRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.CreateTunnel(r.Context(), mux.Vars(r)["id"], req)
	s.commandResponse(w, r, http.StatusCreated, result, err)
}

func (s *Server) handleRemoveTunnel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.RemoveTunnel(r.Context(), mux.Vars(r)["id"], engine.TunnelID(id))
	s.commandResponse(w, r, http.StatusOK, result, err)
}

func (s *Server) handleMoveControlPoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.MoveTunnelControlPoint(r.Context(), mux.Vars(r)["id"], engine.TunnelID(id), req.X, req.Y)
	s.commandResponse(w, r, http.StatusOK, result, err)
}

func (s *Server) handleClearControlPoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.ClearTunnelControlPoint(r.Context(), mux.Vars(r)["id"], engine.TunnelID(id))
	s.commandResponse(w, r, http.StatusOK, result, err)
}

// Train Handlers

func (s *Server) handleAddTrain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID engine.StationID `json:"station_id"`
		Stock     string           `json:"stock,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := s.service.AddTrain(r.Context(), mux.Vars(r)["id"], req.StationID, req.Stock)
	s.commandResponse(w, r, http.StatusCreated, result, err)
}

func (s *Server) handleRemoveTrain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "trid")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.RemoveTrain(r.Context(), mux.Vars(r)["id"], engine.TrainID(id))
	s.commandResponse(w, r, http.StatusOK, result, err)
}

// Configuration Handlers

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.service.ListConfigs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, configs)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.service.LoadConfig(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// configID turns a display name into a file-friendly identifier
func configID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// handleCreateConfig saves a world config. The file name comes from the
// config_id query parameter or the config name; format=yaml writes YAML.
func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg engine.WorldConfig
	if err := decode(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := r.URL.Query().Get("config_id")
	if id == "" {
		id = configID(cfg.Name)
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "Config name is required")
		return
	}

	name := id
	if format := r.URL.Query().Get("format"); format == "yaml" || format == "yml" {
		name = id + "." + format
	}

	if err := s.service.SaveConfig(r.Context(), name, &cfg); err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Configuration saved successfully",
		"config_id": id,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "websocket updates are disabled")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session parameter required")
		return
	}

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.hub.ServeWS(w, r, info.ID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
