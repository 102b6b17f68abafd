// Package server provides the HTTP server for the domain cache.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/domainctx"
	"github.com/sitepulse/domain-cache/domainlist"
	"github.com/sitepulse/domain-cache/invalidate"
	"github.com/sitepulse/domain-cache/profile"
	"github.com/sitepulse/domain-cache/record"
	"github.com/sitepulse/domain-cache/store"
	"github.com/sitepulse/domain-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// StoragePath is the bbolt database file for cache entries
	StoragePath string

	// RecordPath is the SQLite database file for owned context records
	RecordPath string

	// ProfileURL is the base URL of the profile service
	ProfileURL string

	// ExtractionURL is the base URL of the extraction service
	ExtractionURL string

	// AuthToken enables Bearer token authentication when non-empty
	AuthToken string

	// ListTTL bounds the staleness of domain list entries.
	// Default: 24 hours.
	ListTTL time.Duration

	// ContextTTL bounds the staleness of domain context entries.
	// Default: 7 days.
	ContextTTL time.Duration

	// SweepInterval is how often the background sweeper reclaims
	// expired entries. Zero disables background eviction.
	SweepInterval time.Duration

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the domain cache.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	bolt     *store.Bolt
	entries  *store.Store
	engine   *invalidate.Engine
	domains  *domainlist.Cache
	records  *record.Store
	contexts *domainctx.Manager
	sweeper  *store.Sweeper
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./domain-cache.db"
	}
	if cfg.RecordPath == "" {
		cfg.RecordPath = "./domain-records.db"
	}
	if cfg.ListTTL == 0 {
		cfg.ListTTL = domaincache.ListMaxAge
	}
	if cfg.ContextTTL == 0 {
		cfg.ContextTTL = domaincache.ContextMaxAge
	}

	bolt := store.NewBolt(store.WithLogger(cfg.Logger.With("component", "bolt")))
	if err := bolt.Open(cfg.StoragePath); err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	kv := store.NewInstrumentedKV(bolt, "bolt")
	entries := store.NewStore(kv, store.WithStoreLogger(cfg.Logger.With("component", "store")))

	engine := invalidate.New(kv,
		invalidate.WithLogger(cfg.Logger.With("component", "invalidate")),
	)

	domains := domainlist.New(entries, engine,
		domainlist.WithLogger(cfg.Logger.With("component", "domainlist")),
		domainlist.WithMaxAge(cfg.ListTTL),
	)

	records, err := record.Open(cfg.RecordPath)
	if err != nil {
		_ = bolt.Close()
		return nil, fmt.Errorf("opening record db: %w", err)
	}

	remote := profile.NewClient(cfg.ProfileURL)
	extractor := profile.NewExtractionClient(cfg.ExtractionURL)

	contexts := domainctx.NewManager(entries, records, remote, extractor,
		domainctx.WithLogger(cfg.Logger.With("component", "domainctx")),
		domainctx.WithMaxAge(cfg.ContextTTL),
	)

	var sweeper *store.Sweeper
	if cfg.SweepInterval > 0 {
		sweeper = store.NewSweeper(entries, store.SweeperConfig{
			Targets: []store.SweepTarget{
				{
					Prefix: domaincache.ListPrefix,
					MaxAge: cfg.ListTTL,
					// Selected domain is user intent, read with no
					// staleness bound; eviction would lose it.
					Exempt: []string{domaincache.KeySelectedDomain},
				},
				{Prefix: domaincache.ContextPrefix, MaxAge: cfg.ContextTTL},
				{Prefix: domaincache.KeywordPrefix, MaxAge: cfg.ListTTL},
			},
			CheckInterval: cfg.SweepInterval,
			Logger:        cfg.Logger.With("component", "sweeper"),
		})
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		bolt:     bolt,
		entries:  entries,
		engine:   engine,
		domains:  domains,
		records:  records,
		contexts: contexts,
		sweeper:  sweeper,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.authMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Cache stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Domain list
	mux.HandleFunc("GET /api/domains", s.handleGetDomains)
	mux.HandleFunc("PUT /api/domains/tracked", s.handleSetTracked)
	mux.HandleFunc("PUT /api/domains/user", s.handleSetUserDomains)
	mux.HandleFunc("PUT /api/domains/gsc", s.handleSetGSCSites)
	mux.HandleFunc("POST /api/domains/user", s.handleAddUserDomain)
	mux.HandleFunc("DELETE /api/domains/user/{domain}", s.handleRemoveUserDomain)
	mux.HandleFunc("PUT /api/domains/selected", s.handleSelectDomain)

	// Cascading invalidation
	mux.HandleFunc("POST /api/invalidate/{domain}", s.handleInvalidateDomain)
	mux.HandleFunc("POST /api/cache/clear", s.handleClearCache)

	// Domain context
	mux.HandleFunc("GET /api/context/{domain}", s.handleGetContext)
	mux.HandleFunc("PUT /api/context/{domain}", s.handleUpdateContext)
	mux.HandleFunc("POST /api/context/{domain}/autofill", s.handleAutoFill)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		endpoint := tags.Endpoint
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		attrs = append(attrs, "endpoint", endpoint)
		if tags.Namespace != "" {
			attrs = append(attrs, "namespace", tags.Namespace)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r.Method, endpoint, wrapped.status, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	if s.sweeper != nil {
		s.logger.Info("starting sweeper", "check_interval", s.config.SweepInterval)
		s.sweeper.Start(context.Background())
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	err := s.httpServer.Shutdown(ctx)

	if cerr := s.records.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.bolt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the server's root handler, for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
