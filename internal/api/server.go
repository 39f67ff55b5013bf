// Package api serves the tender store and the background search runner as
// a JSON HTTP API.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/runner"
	"github.com/safkaty/safkaty/internal/store"
)

// SearchRunner is the part of runner.Runner the API drives.
type SearchRunner interface {
	Start(ctx context.Context, keyword string, maxResults int) (string, error)
	Cancel()
	State() runner.State
	RunID() string
}

// Config wires a Server.
type Config struct {
	Store  store.Store
	Runner SearchRunner

	// Context bounds runs started through the API. Request contexts end
	// with the response, so runs must not inherit them.
	Context context.Context

	// DefaultMaxResults applies when a search request omits max_results.
	DefaultMaxResults int

	AllowedOrigins []string

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server holds API state shared between handlers and the delivery loop.
type Server struct {
	store      store.Store
	runner     SearchRunner
	ctx        context.Context
	maxResults int

	mu      sync.Mutex
	saveFor map[string]bool
	latest  *deliveryView

	router chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	maxResults := cfg.DefaultMaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		store:      cfg.Store,
		runner:     cfg.Runner,
		ctx:        ctx,
		maxResults: maxResults,
		saveFor:    make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/searches", s.startSearch)
		r.Get("/searches/latest", s.latestSearch)
		r.Delete("/searches/current", s.cancelSearch)

		r.Get("/tenders", s.listTenders)
		r.Post("/tenders", s.upsertTender)
		r.Get("/tenders/search", s.searchTenders)
		r.Route("/tenders/{id}", func(r chi.Router) {
			r.Get("/", s.getTender)
			r.Delete("/", s.deleteTender)
			r.Put("/status", s.updateStatus)
			r.Put("/priority", s.updatePriority)
			r.Put("/notes", s.updateNotes)
		})

		r.Get("/stats", s.stats)
		r.Get("/history", s.history)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
