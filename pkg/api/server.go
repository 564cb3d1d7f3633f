package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/auth"
	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/discovery"
	"github.com/netwatch-nms/netwatch/pkg/metrics"
	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

const maxBodyBytes = 1 << 20 // private keys fit comfortably

// Server is the HTTP front end.
type Server struct {
	cfg       config.ServerConfig
	router    chi.Router
	http      *http.Server
	discovery discovery.Service
	store     *store.Store
	secrets   *secret.Store
	auth      *auth.Service
	tokens    *auth.TokenManager
	metrics   *metrics.Metrics
	auditor   audit.Logger
	validate  *validator.Validate
}

// NewServer assembles the router and handlers.
func NewServer(
	cfg config.ServerConfig,
	svc discovery.Service,
	st *store.Store,
	secrets *secret.Store,
	authSvc *auth.Service,
	tokens *auth.TokenManager,
	m *metrics.Metrics,
	auditor audit.Logger,
) *Server {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	s := &Server{
		cfg:       cfg,
		discovery: svc,
		store:     st,
		secrets:   secrets,
		auth:      authSvc,
		tokens:    tokens,
		metrics:   m,
		auditor:   auditor,
		validate:  validator.New(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(securityHeaders)
	if s.metrics != nil {
		r.Use(httpMetrics(s.metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.RateLimit.Enabled {
		limiter := newIPRateLimiter(s.cfg.RateLimit.RequestsPerMinute, s.cfg.RateLimit.BurstSize)
		r.Use(limiter.middleware)
	}
	r.Use(bodyLimit(maxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(s.tokens))

			r.Route("/discovery", func(r chi.Router) {
				r.Post("/start", s.handleDiscoveryStart)
				r.Get("/jobs", s.handleDiscoveryJobs)
				r.Get("/status/{jobID}", s.handleDiscoveryStatus)
				r.Get("/results/{jobID}", s.handleDiscoveryResults)
				r.Delete("/job/{jobID}", s.handleDiscoveryCancel)
			})

			r.Route("/credentials", func(r chi.Router) {
				r.Post("/", s.handleCredentialCreate)
				r.Get("/", s.handleCredentialList)
				r.Get("/{id}", s.handleCredentialGet)
				r.Put("/{id}", s.handleCredentialUpdate)
				r.Delete("/{id}", s.handleCredentialDelete)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleDeviceList)
				r.Get("/search", s.handleDeviceSearch)
				r.Get("/{id}", s.handleDeviceGet)
				r.Put("/{id}", s.handleDeviceUpdate)
				r.Put("/{id}/status", s.handleDeviceSetStatus)
				r.Delete("/{id}", s.handleDeviceDelete)
			})
		})
	})

	return r
}

// Handler exposes the router; tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.WithField("addr", addr).Info("http server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
