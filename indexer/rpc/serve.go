package rpc

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the read API server
type ServerConfig struct {
	Address        string
	AllowedOrigins []string
	EnableMetrics  bool
	RatePerMinute  *int
	Burst          *int
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() *ServerConfig {
	rateLimit := 120
	burst := 200
	return &ServerConfig{
		Address:        "localhost:8080",
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
		RatePerMinute:  &rateLimit,
		Burst:          &burst,
	}
}

// Server wraps the HTTP server and provides lifecycle management
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	mux        *chi.Mux
}

// NewServer creates a new read API server over the given store.
func NewServer(config *ServerConfig, db store.Store, tokenService *tokens.Service) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}

	mux := chi.NewMux()

	// zerolog middleware replaces chi's default logger
	mux.Use(zerologMiddleware)
	mux.Use(zerologRecoverer)

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Compress(5))
	mux.Use(middleware.Timeout(60 * time.Second))

	if config.RatePerMinute != nil && *config.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(*config.RatePerMinute, 1*time.Minute))
	}
	if config.Burst != nil && *config.Burst > 0 {
		mux.Use(middleware.Throttle(*config.Burst))
	}

	if config.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
		Logger.Info().Msg("Metrics endpoint enabled: /metrics")
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"spectra-indexer"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	api := newAPIHandler(db, tokenService)
	mux.Route("/v1", api.routes)

	corsHandler := newCORSHandler(config.AllowedOrigins, mux)

	// h2c keeps HTTP/2 available behind TLS-terminating proxies
	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(corsHandler, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		config:     config,
		httpServer: httpServer,
		mux:        mux,
	}, nil
}

// Handler exposes the routed mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// zerologMiddleware logs HTTP requests using zerolog
func zerologMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// zerologRecoverer recovers from panics and logs with zerolog
func zerologRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				Logger.Error().
					Interface("panic", rvr).
					Str("path", r.URL.Path).
					Msg("Recovered from panic")

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func newCORSHandler(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// CORS spec forbids wildcard origins with credentials
	var allowCredentials bool
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		allowCredentials = false
	} else {
		allowCredentials = true
	}

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
		},
		AllowedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"Content-Encoding",
		},
		AllowCredentials: allowCredentials,
		MaxAge:           int(2 * time.Hour / time.Second),
	}).Handler(next)
}

// Start begins serving requests without TLS
func (s *Server) Start() error {
	s.logServerInfo("http")
	return s.httpServer.ListenAndServe()
}

// StartTLS begins serving requests with TLS
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logServerInfo("https")
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) logServerInfo(protocol string) {
	Logger.Info().
		Str("address", s.config.Address).
		Str("protocol", protocol).
		Msg("Spectra Indexer API starting")

	Logger.Info().Msg("Available endpoints:")
	Logger.Info().Msg("\tAPI: /v1/*")
	Logger.Info().Msg("\tHealth: /health")
	Logger.Info().Msg("\tReady: /ready")

	if s.config.EnableMetrics {
		Logger.Info().Msg("\tMetrics: /metrics")
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down API server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		Logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	Logger.Info().Msg("Server shutdown complete")
	return nil
}
