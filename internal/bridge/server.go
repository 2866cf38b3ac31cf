package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wagiedev/mcp-http-bridge/internal/config"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
)

const readHeaderTimeout = 10 * time.Second

// Server exposes an Exchanger over HTTP.
type Server struct {
	log       *slog.Logger
	opts      *config.Options
	exchanger Exchanger
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
}

// NewServer creates a Server forwarding /mcp requests to exchanger.
func NewServer(log *slog.Logger, opts *config.Options, exchanger Exchanger, m *metrics.Metrics) *Server {
	s := &Server{
		log:       log.With("component", "http"),
		opts:      opts,
		exchanger: exchanger,
		metrics:   m,
	}

	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}

	return s
}

// Handler returns the complete HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /mcp", withRateLimit(s.log, s.limiter, s.metrics)(http.HandlerFunc(s.handleMCP)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return ChainMiddlewareHandlers(mux,
		withRequestLogging(s.log, s.metrics),
		withCORS(),
	)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.opts.Addr()

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully, giving
// in-flight requests up to the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ln.Addr().String()

		s.log.Info("MCP HTTP bridge listening", "addr", addr)
		s.log.Info("Endpoints available",
			"health", "GET http://"+addr+"/health",
			"mcp", "POST http://"+addr+"/mcp",
			"metrics", "GET http://"+addr+"/metrics",
		)

		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		s.log.Info("Shutting down HTTP server")

		if s.opts.ShutdownTimeout <= 0 {
			return srv.Close()
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Graceful shutdown timed out, closing remaining connections", "error", err)

			return srv.Close()
		}

		return nil
	})

	return g.Wait()
}
