// Package healthapi exposes a localhost-bound /healthz and
// /debug/config endpoint, grounded on the teacher's
// `pkg/server/handlers.go` SetupRoutes/handleHealth shape (gorilla/mux
// routing, one small JSON-response helper).
package healthapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/season"
	"github.com/xmastree/datasleigh/internal/store"
)

var startTime = time.Now()

// Status reports the process's current health for the /healthz
// endpoint.
type Status struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Season   string `json:"season_mode"`
	StoreMB  int64  `json:"store_size_mb"`
	Shedding bool   `json:"ingest_shedding"`
}

// ShedReporter is satisfied by ingest.Buffer; kept as a narrow
// interface so this package doesn't need to import ingest.
type ShedReporter interface {
	Shedding() bool
}

// Server wires the status handlers onto a mux.Router. It does not own
// listening; the supervisor starts http.Server with this as its
// handler so shutdown can be coordinated from one place.
type Server struct {
	cfg    config.Config
	handle *store.Handle
	shed   ShedReporter
	router *mux.Router
}

// New builds the router. shed may be nil if ingest shed-state isn't
// wired up yet.
func New(cfg config.Config, handle *store.Handle, shed ShedReporter, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, handle: handle, shed: shed, router: mux.NewRouter()}
	s.router.Use(loggingMiddleware(logger))
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/config", s.handleDebugConfig).Methods(http.MethodGet)
	return s
}

// Handler returns the configured http.Handler for use with an
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.handle.Get()
	stats, err := st.Stats(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, Status{Status: "degraded"})
		return
	}

	shedding := false
	if s.shed != nil {
		shedding = s.shed.Shedding()
	}

	status := Status{
		Status:   "healthy",
		Uptime:   time.Since(startTime).String(),
		Season:   string(season.Current(s.cfg.Season, time.Now())),
		StoreMB:  stats.SizeBytes / (1 << 20),
		Shedding: shedding,
	}
	if shedding {
		status.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleDebugConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.Redacted())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			logger.Debug("healthapi request", zap.String("path", r.URL.Path), zap.String("method", r.Method))
		})
	}
}
