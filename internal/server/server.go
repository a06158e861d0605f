package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/candidates"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/graph"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/intake"
	"github.com/hearthd/hearth/internal/mood"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

// Server is the hearth HTTP API: the narrow contract between the pipeline
// and the host-platform adapter.
type Server struct {
	db         *store.DB
	intake     *intake.Intake
	graph      *graph.Service
	miner      *habitus.Miner
	mood       *mood.Scorer
	candidates *candidates.Store
	metrics    *observability.Collector
	cfg        config.Config
	log        *zap.Logger
	router     chi.Router
	version    string
	started    time.Time
}

// New creates a Server wired to the pipeline components.
func New(db *store.DB, in *intake.Intake, g *graph.Service, m *habitus.Miner, sc *mood.Scorer, c *candidates.Store, metrics *observability.Collector, cfg config.Config, log *zap.Logger, version string) *Server {
	s := &Server{
		db:         db,
		intake:     in,
		graph:      g,
		miner:      m,
		mood:       sc,
		candidates: c,
		metrics:    metrics,
		cfg:        cfg,
		log:        log,
		version:    version,
		started:    time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Method("GET", "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/events", s.handleIngest)
		r.Get("/events", s.handleListEvents)

		r.Get("/graph/state", s.handleGraphState)

		r.Get("/habitus/rules", s.handleRules)
		r.Post("/habitus/mine", s.handleMine)

		r.Get("/candidates", s.handleListCandidates)
		r.Post("/candidates", s.handleCreateCandidate)
		r.Put("/candidates/{candidateID}", s.handleDecideCandidate)

		r.Get("/mood", s.handleMood)
	})

	s.router = r
}

// authenticate enforces the bearer token on pipeline routes. An empty
// configured token disables auth (logged once at startup by the CLI).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.Token != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != s.cfg.Server.Token {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, httpStatusLabel(ww.Status())).Inc()
		s.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func httpStatusLabel(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}
	nodes, edges := s.graph.Counts()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"nodes":   nodes,
		"edges":   edges,
	})
}
