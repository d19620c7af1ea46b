// Package server wires the proxy handler into an HTTP server: routing,
// request logging, panic recovery, and lifecycle management.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mark3labs/x402-proxy/internal/config"
)

// Server owns the router and the listener.
type Server struct {
	cfg    *config.Config
	router chi.Router
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds the router around the proxy handler.
func NewServer(cfg *config.Config, handler *ProxyHandler, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(recoverer(logger))
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.HandleFunc("/proxy/{slug}", handler.ServeProxy)
	r.HandleFunc("/proxy/{slug}/*", handler.ServeProxy)

	return &Server{
		cfg:    cfg,
		router: r,
		logger: logger,
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router exposes the handler tree, for tests.
func (s *Server) Router() http.Handler { return s.router }

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", s.cfg.ListenAddr)
			if err != nil {
				return err
			}
			s.logger.Info("listening", zap.String("addr", s.cfg.ListenAddr))
			go func() {
				if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
					s.logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.http.Shutdown(ctx)
		},
	})
}

// recoverer converts panics into a generic 500; detail goes to the server log
// only, never to the client.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic while handling request",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path))
					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"error": "internal server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
