// Package httpapi is the control plane's REST surface: catalog
// registration, execution start, the generic worker event-emit endpoint,
// queue lease/heartbeat/complete/fail, and keychain/credential lookup. It
// wires execution.Initializer, execution.Advancer, execution.Completer and
// the storage packages into HTTP handlers the way the teacher's
// internal/api.App wires its own services into handlers — a narrow struct
// per concern, one constructor, one router-builder.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noetl/noetl-sub007/internal/catalogstore"
	"github.com/noetl/noetl-sub007/internal/config"
	"github.com/noetl/noetl-sub007/internal/errortracking"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/execution"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
	"github.com/noetl/noetl-sub007/internal/keychain"
	"github.com/noetl/noetl-sub007/internal/metrics"
	"github.com/noetl/noetl-sub007/internal/tracing"
)

// Server holds every collaborator the control plane's handlers need.
type Server struct {
	logger   *slog.Logger
	validate *validator.Validate

	catalog       *catalogstore.Store
	events        *eventlog.Log
	queue         *jobqueue.Queue
	keychainStore *keychain.Store
	cipher        *keychain.Cipher

	initializer *execution.Initializer
	advancer    *execution.Advancer
	completer   *execution.Completer

	metrics         *metrics.Metrics
	metricsRegistry *prometheus.Registry
	errorTracker    *errortracking.Tracker

	cors config.CORSConfig
	obs  config.ObservabilityConfig
	env  string
}

// Deps bundles Server's collaborators so NewServer's signature doesn't grow
// a parameter per dependency every time a handler needs one more thing.
type Deps struct {
	Logger *slog.Logger

	Catalog       *catalogstore.Store
	Events        *eventlog.Log
	Queue         *jobqueue.Queue
	KeychainStore *keychain.Store
	Cipher        *keychain.Cipher

	Initializer *execution.Initializer
	Advancer    *execution.Advancer
	Completer   *execution.Completer

	Metrics         *metrics.Metrics
	MetricsRegistry *prometheus.Registry
	ErrorTracker    *errortracking.Tracker

	CORS          config.CORSConfig
	Observability config.ObservabilityConfig
	Env           string
}

// NewServer constructs a Server from its dependency bundle.
func NewServer(d Deps) *Server {
	return &Server{
		logger:          d.Logger,
		validate:        validator.New(),
		catalog:         d.Catalog,
		events:          d.Events,
		queue:           d.Queue,
		keychainStore:   d.KeychainStore,
		cipher:          d.Cipher,
		initializer:     d.Initializer,
		advancer:        d.Advancer,
		completer:       d.Completer,
		metrics:         d.Metrics,
		metricsRegistry: d.MetricsRegistry,
		errorTracker:    d.ErrorTracker,
		cors:            d.CORS,
		obs:             d.Observability,
		env:             d.Env,
	}
}

// CredentialSource exposes the Server's keychain store/cipher as a
// keychain.CredentialSource, for wiring a keychain.Resolver that needs to
// dereference `credential`/`google_oauth` keychain entries against
// credentials registered through this same control plane.
func (s *Server) CredentialSource() keychain.CredentialSource {
	return keychain.NewStoreCredentialSource(s.keychainStore, s.cipher)
}

// Router builds the chi.Mux serving every route in the control plane.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger(s.logger))
	r.Use(securityHeaders)
	if s.obs.TracingEnabled {
		r.Use(tracing.HTTPMiddleware())
	}
	if s.metrics != nil {
		r.Use(metrics.HTTPMetricsMiddleware(s.metrics))
	}
	if s.errorTracker != nil {
		r.Use(sentryRecover(s.errorTracker))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cors.AllowedOrigins,
		AllowedMethods: s.cors.AllowedMethods,
		AllowedHeaders: s.cors.AllowedHeaders,
		MaxAge:         s.cors.MaxAge,
	}))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	if s.obs.MetricsEnabled && s.metricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/catalog", func(r chi.Router) {
		r.Post("/register", s.handleCatalogRegister)
		r.Post("/list", s.handleCatalogList)
		r.Post("/resource", s.handleCatalogResource)
	})

	r.Post("/execute", s.handleExecute)
	r.Post("/events", s.handleEmitEvent)
	r.Get("/events/by-execution/{id}", s.handleEventsByExecution)

	r.Get("/executions", s.handleListExecutions)
	r.Get("/executions/{id}", s.handleGetExecution)
	r.Get("/executions/{id}/stream", s.handleExecutionStream)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/lease", s.handleQueueLease)
		r.Post("/{id}/heartbeat", s.handleQueueHeartbeat)
		r.Post("/{id}/complete", s.handleQueueComplete)
		r.Post("/{id}/fail", s.handleQueueFail)
		r.Get("/size", s.handleQueueSize)
	})

	r.Post("/keychain/{catalog_id}/{name}", s.handleKeychainStore)
	r.Get("/credentials/{name}", s.handleCredentialResolve)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady additionally checks the database is reachable through one of
// the storage collaborators, so an orchestrator's readiness probe catches a
// dead connection pool the way /health never would.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Size(r.Context(), "queued"); err != nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}
