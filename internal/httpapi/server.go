package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
	apimw "github.com/hamed0406/noticerelay/internal/httpapi/middleware"
	"github.com/hamed0406/noticerelay/internal/queue"
	"github.com/hamed0406/noticerelay/internal/tracker"
)

type QueueView interface {
	Snapshot() queue.Snapshot
}

type TrackerView interface {
	Stats() []tracker.Stat
}

type Readiness interface {
	Ready() bool
}

// Server is the read-only ops API.
type Server struct {
	Logger       *zap.Logger
	Queue        QueueView
	Tracker      TrackerView
	Readiness    Readiness
	Competitions []domain.Competition
	Metrics      http.Handler
}

func NewServer(l *zap.Logger, q QueueView, tr TrackerView, ready Readiness, comps []domain.Competition) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		Logger:       l,
		Queue:        q,
		Tracker:      tr,
		Readiness:    ready,
		Competitions: comps,
		Metrics:      promhttp.Handler(),
	}
}

// Router wires the routes. An empty origins list allows any origin.
// rpm <= 0 disables rate limiting.
func (s *Server) Router(keys apimw.Keys, origins []string, rpm, burst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(rpm, burst))
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(keys))
			r.Get("/tracker", s.handleTracker)
			r.Get("/competitions", s.handleCompetitions)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(keys))
			r.Get("/queue", s.handleQueue)
		})
	})
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Readiness == nil || !s.Readiness.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	snap := s.Queue.Snapshot()
	if snap.Retry == nil {
		snap.Retry = []domain.QueueItem{}
	}
	if snap.Overflow == nil {
		snap.Overflow = []domain.QueueItem{}
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Tracker.Stats())
}

func (s *Server) handleCompetitions(w http.ResponseWriter, r *http.Request) {
	out := s.Competitions
	if out == nil {
		out = []domain.Competition{}
	}
	s.writeJSON(w, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("api_encode_error", zap.Error(err))
	}
}
