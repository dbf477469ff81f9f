package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"drone-command-gateway/internal/activity"
	"drone-command-gateway/internal/commands"
	"drone-command-gateway/internal/models"
	"drone-command-gateway/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	ServiceName = "Drone Command Gateway"
	Version     = "1.0.0"
)

// Archive persists accepted telemetry samples
type Archive interface {
	InsertSample(sample models.TelemetrySample, receivedAt time.Time) (int64, error)
}

// Deps are the components served by the API
type Deps struct {
	Store        *telemetry.Store
	History      *activity.Log
	Dispatcher   *commands.Dispatcher
	Archive      Archive // optional
	DroneAPIURL  string
	HistoryLimit int
}

// Server represents the API server
type Server struct {
	store        *telemetry.Store
	history      *activity.Log
	dispatcher   *commands.Dispatcher
	archive      Archive
	droneAPI     string
	historyLimit int
	now          func() time.Time
	router       *mux.Router
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	limit := deps.HistoryLimit
	if limit < 1 {
		limit = 50
	}

	s := &Server{
		store:        deps.Store,
		history:      deps.History,
		dispatcher:   deps.Dispatcher,
		archive:      deps.Archive,
		droneAPI:     deps.DroneAPIURL,
		historyLimit: limit,
		now:          time.Now,
		router:       mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Info
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// Telemetry
	s.router.HandleFunc("/api/gps_data", s.handleGPSData).Methods("POST")
	s.router.HandleFunc("/api/gps_history", s.handleGPSHistory).Methods("GET")

	// Action history
	s.router.HandleFunc("/api/log_action", s.handleLogAction).Methods("POST")
	s.router.HandleFunc("/api/action_history", s.handleActionHistory).Methods("GET")

	// Drone commands
	s.router.HandleFunc("/api/status", s.handleCommand(commands.Status)).Methods("GET", "POST")
	s.router.HandleFunc("/api/execute_template_mission", s.handleTemplateMission).Methods("POST")
	for _, cmd := range []commands.Command{
		commands.TakeoffAssist,
		commands.SetHome,
		commands.RTL,
		commands.Land,
		commands.Loiter,
		commands.ClearMission,
	} {
		s.router.HandleFunc("/api/"+cmd.Name, s.handleCommand(cmd)).Methods("POST")
	}
	s.router.HandleFunc("/api/execute_waypoint_mission", s.handleFileCommand(commands.ExecuteWaypointMission)).Methods("POST")
	s.router.HandleFunc("/api/validate_waypoint_file", s.handleFileCommand(commands.ValidateWaypointFile)).Methods("POST")
	s.router.HandleFunc("/api/restart_required", s.handleCommand(commands.RestartRequired)).Methods("GET")

	// Catch-all, must stay last so dedicated routes match first
	s.router.HandleFunc("/api/{command}", s.handleGenericCommand).Methods("POST")

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(handleNotFound))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(handleMethodNotAllowed))

	// Add middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
			"client":     clientIP(r),
		}).Info("HTTP request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the X-Forwarded-For header over the peer address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusNotFound, "Not found")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// decodeObject reads a JSON object body. ok is false when the body is
// absent, not JSON, or not an object.
func decodeObject(r *http.Request) (map[string]interface{}, bool) {
	if r.Body == nil {
		return nil, false
	}
	var data map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil || data == nil {
		return nil, false
	}
	return data, true
}
