// Package server exposes the database over HTTP: document CRUD, planned
// queries, aggregation pipelines, explain output and index management.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corvusdb/corvus/pkg/database"
	"github.com/corvusdb/corvus/pkg/server/handlers"
)

// Server represents the HTTP server for Corvus
type Server struct {
	config    *Config
	db        *database.Database
	router    *chi.Mux
	httpSrv   *http.Server
	log       *slog.Logger
	startTime time.Time
}

// New creates a new HTTP server instance
func New(config *Config) (*Server, error) {
	// Validate TLS configuration
	if config.EnableTLS {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key file not specified")
		}
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS certificate file not found: %s", config.TLSCertFile)
		}
		if _, err := os.Stat(config.TLSKeyFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS key file not found: %s", config.TLSKeyFile)
		}
	}

	log := config.Database.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	srv := &Server{
		config:    config,
		db:        database.NewDatabase(config.DatabaseName, config.Database),
		router:    chi.NewRouter(),
		log:       log,
		startTime: time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

// setupMiddleware configures HTTP middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	h := handlers.New(s.db)

	// Health and admin endpoints
	s.router.Get("/_health", h.Health(s.startTime))
	s.router.Get("/_stats", h.GetDatabaseStats)
	s.router.Get("/_collections", h.ListCollections)

	// Collection routes
	s.router.Route("/{collection}", func(r chi.Router) {
		// Collection management
		r.Put("/", h.CreateCollection)
		r.Delete("/", h.DropCollection)
		r.Get("/_stats", h.GetCollectionStats)

		// Document operations
		r.Post("/_doc", h.InsertDocument)
		r.Post("/_bulk", h.BulkInsert)
		r.Post("/_delete", h.DeleteDocuments)
		r.Post("/_count", h.CountDocuments)

		// Query operations
		r.Post("/_find", h.FindDocuments)
		r.Post("/_find/_explain", h.ExplainFind)

		// Aggregation
		r.Post("/_aggregate", h.Aggregate)
		r.Post("/_aggregate/_explain", h.ExplainAggregate)

		// Index management
		r.Post("/_index", h.CreateIndex)
		r.Get("/_index", h.ListIndexes)
		r.Delete("/_index/{name}", h.DropIndex)

		// Plan cache inspection
		r.Get("/_plans", h.GetPlanCache)
		r.Delete("/_plans", h.ClearPlanCache)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Router returns the HTTP handler, for embedding in tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Database returns the database instance
func (s *Server) Database() *database.Database {
	return s.db
}

// Start starts the HTTP server and blocks until a shutdown signal or a
// listener error
func (s *Server) Start() error {
	protocol := "http"
	if s.config.EnableTLS {
		protocol = "https"
	}
	s.log.Info("server starting",
		"addr", fmt.Sprintf("%s://%s:%d", protocol, s.config.Host, s.config.Port),
		"database", s.config.DatabaseName,
		"tls", s.config.EnableTLS)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpSrv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.log.Info("shutdown signal received", "signal", sig.String())
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown error", "error", err)
	}

	if err := s.db.Close(); err != nil {
		s.log.Error("database close error", "error", err)
		return err
	}

	s.log.Info("server shutdown complete")
	return nil
}
