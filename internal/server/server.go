package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"media-uploader/internal/metrics"
	"media-uploader/internal/upload"
)

// ChunkHandler processes one decoded chunk request.
type ChunkHandler interface {
	HandleChunk(ctx context.Context, req *upload.ChunkRequest) (upload.Result, error)
}

type Config struct {
	Addr string // e.g. ":5005"
	// MaxContentLength bounds each request body; 0 means unlimited.
	MaxContentLength   int64
	RateLimitPerMinute int
	Version            string
}

// Deps are the collaborators the HTTP surface is wired to.
type Deps struct {
	Uploads  ChunkHandler
	Checks   []Check
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Server struct {
	cfg        Config
	uploads    ChunkHandler
	checks     []Check
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	limiter    *rateLimiter
	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		uploads: deps.Uploads,
		checks:  deps.Checks,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			s.limiter = newRateLimiter(cfg.RateLimitPerMinute, time.Minute)
			r.Use(s.limiter.middleware)
		}
		r.Post("/upload_chunk", s.handleUploadChunk)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/livez", s.handleLive)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           compressionMiddleware(r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln. http.ErrServerClosed is not reported as an error.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", s.cfg.Version).Msg("listening")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpServer.Shutdown(ctx)
}
