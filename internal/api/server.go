package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/metrics"
)

const idleTimeout = 120 * time.Second

// Server serves the FraudSentry HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the router. Operational endpoints skip the tenant check.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	h := NewHandler(deps)

	router := chi.NewRouter()
	router.Use(
		CORSMiddleware,
		RecoverMiddleware,
		TracingMiddleware,
		RequestLogger(deps.Logger),
		metrics.Middleware,
		middleware.RealIP,
		middleware.Compress(5),
	)

	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/analyze", h.Analyze)
		r.Post("/analyze/async", h.AnalyzeAsync)
		r.Get("/analyses/{id}", h.GetAnalysis)
		r.Get("/transactions/{id}", h.GetTransaction)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/reload", h.ReloadRules)
			r.Get("/{id}", h.GetRule)
		})
	})

	return &Server{
		router:  router,
		handler: h,
		config:  cfg,
	}
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  idleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
