// Package api serves the classification and verification protocol over HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/metrics"
	"github.com/Veraticus/hscode-copilot/internal/service"
	"github.com/Veraticus/hscode-copilot/internal/verification"
)

// Deps holds everything the handlers need.
type Deps struct {
	Engine   *engine.Engine
	Verifier *verification.Service
	Source   service.CandidateSource
	Products service.ProductStore
	// Metrics is optional; /metrics is not served without it.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// StoreKind is reported by /health.
	StoreKind string
	// AllowedOrigins is the CORS Access-Control-Allow-Origin value; "*" when empty.
	AllowedOrigins string
}

// Server holds the HTTP handlers.
type Server struct {
	engine   *engine.Engine
	verifier *verification.Service
	source   service.CandidateSource
	products service.ProductStore
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	deps     Deps
	started  time.Time
}

// NewServer validates deps and creates a Server.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("%w: classification engine", common.ErrMissingConfig)
	case deps.Verifier == nil:
		return nil, fmt.Errorf("%w: verification service", common.ErrMissingConfig)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: candidate source", common.ErrMissingConfig)
	case deps.Products == nil:
		return nil, fmt.Errorf("%w: product store", common.ErrMissingConfig)
	}

	return &Server{
		engine:   deps.Engine,
		verifier: deps.Verifier,
		source:   deps.Source,
		products: deps.Products,
		metrics:  deps.Metrics,
		validate: newValidator(),
		logger:   common.LoggerOrDefault(deps.Logger),
		deps:     deps,
		started:  time.Now(),
	}, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.observeMiddleware)

	classify := r.PathPrefix("/api/classify").Subrouter()
	classify.HandleFunc("/start", s.startSession).Methods(http.MethodPost, http.MethodOptions)
	classify.HandleFunc("/session/{id}", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	classify.HandleFunc("/session/{id}", s.deleteSession).Methods(http.MethodDelete, http.MethodOptions)
	classify.HandleFunc("/answer/{id}", s.submitAnswer).Methods(http.MethodPost, http.MethodOptions)
	classify.HandleFunc("/finalize/{id}", s.finalize).Methods(http.MethodPost, http.MethodOptions)
	classify.HandleFunc("/restart/{id}", s.restartSession).Methods(http.MethodPost, http.MethodOptions)
	classify.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/api/search", s.search).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/products", s.listProducts).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/products/{id}", s.getProduct).Methods(http.MethodGet, http.MethodOptions)

	agent := r.PathPrefix("/api/agent").Subrouter()
	agent.HandleFunc("/verify", s.startVerification).Methods(http.MethodPost, http.MethodOptions)
	agent.HandleFunc("/status/{id}", s.pollVerification).Methods(http.MethodGet, http.MethodOptions)
	agent.HandleFunc("/transcript/{id}", s.transcript).Methods(http.MethodGet, http.MethodOptions)
	agent.HandleFunc("/retry/{id}", s.retryVerification).Methods(http.MethodPost, http.MethodOptions)
	agent.HandleFunc("/session/{id}", s.deleteVerification).Methods(http.MethodDelete, http.MethodOptions)
	agent.HandleFunc("/sessions", s.listVerifications).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := s.deps.AllowedOrigins
	if origins == "" {
		origins = "*"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, rec.status)
		}
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
