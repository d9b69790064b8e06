// Package api exposes the engine operations over HTTP.
//
// Routes:
//
//	GET  /healthz
//	POST /api/v1/messages/parse
//	POST /api/v1/messages/reconcile
//	POST /api/v1/statements/parse
//	POST /api/v1/reconciliations
//	GET  /api/v1/payments/{id}/risk
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"payment-reconciliation-engine/internal/fraud"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Config holds the HTTP server settings
type Config struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   4 << 20,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
	}
}

// API routes HTTP requests to the coordinator and scorer
type API struct {
	router      *mux.Router
	coordinator *reconciler.Coordinator
	scorer      *fraud.Scorer
	config      *Config
	logger      logger.Logger
}

// New creates the API. scorer may be nil, in which case the risk route
// answers 503.
func New(coordinator *reconciler.Coordinator, scorer *fraud.Scorer, config *Config, log logger.Logger) (*API, error) {
	if coordinator == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "coordinator", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	api := &API{
		router:      mux.NewRouter(),
		coordinator: coordinator,
		scorer:      scorer,
		config:      config,
		logger:      log.WithComponent("api"),
	}
	api.setupRoutes()
	return api, nil
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.limitBody, a.logRequests)

	v1.HandleFunc("/messages/parse", a.handleParseMessage).Methods("POST")
	v1.HandleFunc("/messages/reconcile", a.handleReconcileMessage).Methods("POST")
	v1.HandleFunc("/statements/parse", a.handleParseStatement).Methods("POST")
	v1.HandleFunc("/reconciliations", a.handleReconcileStatement).Methods("POST")
	v1.HandleFunc("/payments/{id}/risk", a.handleAssessPayment).Methods("GET")
}

// Handler returns the router wrapped with CORS handling
func (a *API) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins: a.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		// credentials stay off while a wildcard origin is allowed
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (a *API) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         a.config.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", a.config.Addr).Info("API server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.NetworkError(errors.CodeConnectionFailed, a.config.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("Shutting down API server")
		return server.Shutdown(shutdownCtx)
	}
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.WithFields(logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}
