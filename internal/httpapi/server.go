// Package httpapi serves the review workflow and process metrics over HTTP.
//
// The router lets a reviewer list batches, read a batch's document, record
// decisions, and trigger a load without touching the CLI. Prometheus metrics
// are exposed on /metrics from the same listener.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cinesync/internal/logging"
)

// NewRouter builds the HTTP routes for svc. gatherer backs /metrics; a nil
// gatherer uses the default registry.
func NewRouter(svc Service, gatherer prometheus.Gatherer, logger *zap.Logger) *chi.Mux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logging.NewComponentLogger(logger, "httpapi")
	h := &handlers{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/cursors", h.cursors)
	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.listBatches)
		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", h.getBatch)
			r.Get("/document", h.document)
			r.Post("/records/{movieID}/decision", h.decide)
			r.Post("/load", h.load)
		})
	})
	return r
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Server owns the listener and http.Server for the review API.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
	wg         sync.WaitGroup
	serveErr   error
}

// NewServer listens on bind and prepares to serve handler.
func NewServer(bind string, handler http.Handler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logging.NewComponentLogger(logger, "httpapi"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts handling requests in the background.
func (s *Server) Serve() {
	s.logger.Info("http server listening", zap.String("addr", s.Addr()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "http server stopped", "http_serve_failed",
				zap.Error(err),
				zap.String(logging.FieldErrorHint, "check the bind address and restart serve"),
			)
			s.serveErr = err
		}
	}()
}

// Close drains in-flight requests until ctx expires, then stops the server.
func (s *Server) Close(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return s.serveErr
}
