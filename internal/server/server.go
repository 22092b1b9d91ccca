// Package server wires the echo handler into its middleware chain and runs
// the echo and metrics listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/3xpluto/go-upstream/internal/config"
	"github.com/3xpluto/go-upstream/internal/echo"
	"github.com/3xpluto/go-upstream/internal/mw"
	"github.com/3xpluto/go-upstream/internal/netx"
	"github.com/3xpluto/go-upstream/internal/ratelimit"
	"github.com/3xpluto/go-upstream/internal/rid"
	"github.com/3xpluto/go-upstream/internal/trace"
)

type Options struct {
	// Trace receives per-request blocks. Nil disables tracing.
	Trace io.Writer
	// IDs overrides the process-wide id scheme.
	IDs rid.Generator
	// Registry receives the request metrics. Nil creates a private one.
	Registry *prometheus.Registry
}

type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     *prometheus.Registry
	limiter ratelimit.Limiter
	handler http.Handler
	limit   *mw.InFlightLimit
}

// New builds the handler chain. The config must already be validated.
func New(cfg *config.Config, log *slog.Logger, opts Options) (*Server, error) {
	trusted, err := netx.ParseCIDRSet(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := mw.NewMetrics(reg)

	ids := opts.IDs
	if ids == nil {
		ids = rid.Default()
	}

	var printer *trace.Printer
	if !cfg.Echo.Quiet && opts.Trace != nil {
		printer = trace.New(opts.Trace, !cfg.Echo.NoColor)
	}

	s := &Server{
		cfg:   cfg,
		log:   log,
		reg:   reg,
		limit: mw.NewInFlightLimit(cfg.Server.MaxInFlight),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newLimiter(cfg.RateLimit, log)
	}

	// Innermost first.
	var h http.Handler = echo.NewHandler(cfg.Echo, ids, printer, log)
	h = mw.MaxBodyBytes(cfg.Server.MaxBodyBytes, h)
	h = mw.RateLimit(s.limiter, mw.IPResolver{Trusted: trusted}, mw.RateLimitConfig{
		Enabled: cfg.RateLimit.Enabled,
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
	}, log, h)
	h = mw.ConcurrencyLimit(s.limit, h)
	h = mw.Recover(log, h)
	h = mw.AccessLog(log, h)
	h = mw.Instrument(metrics, h)
	h = mw.RequestID(h)
	s.handler = h

	return s, nil
}

func newLimiter(cfg config.RateLimitConfig, log *slog.Logger) ratelimit.Limiter {
	memory := func() ratelimit.Limiter {
		return ratelimit.NewMemoryLimiter(
			time.Duration(cfg.Memory.TTLSeconds)*time.Second,
			time.Duration(cfg.Memory.CleanupSeconds)*time.Second,
		)
	}
	if strings.ToLower(cfg.Backend) != "redis" {
		return memory()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable; falling back to memory limiter", slog.String("error", err.Error()))
		_ = rdb.Close()
		return memory()
	}
	return ratelimit.NewRedisLimiter(rdb)
}

// Handler is the echo listener's handler. Every path and method reaches it.
func (s *Server) Handler() http.Handler { return s.handler }

// MetricsHandler serves /metrics and /healthz for the metrics listener.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			return
		}
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts both listeners down
// gracefully. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr(), err)
	}
	var mln net.Listener
	if s.cfg.Metrics.Addr != "" {
		mln, err = net.Listen("tcp", s.cfg.Metrics.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.Metrics.Addr, err)
		}
	}
	return s.Serve(ctx, ln, mln)
}

// Serve is Run on caller-provided listeners. mln may be nil.
func (s *Server) Serve(ctx context.Context, ln, mln net.Listener) error {
	defer s.Close()

	echoSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Duration(s.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Server.IdleTimeoutSeconds) * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	servers := []*http.Server{echoSrv}
	listeners := []net.Listener{ln}
	if mln != nil {
		servers = append(servers, &http.Server{
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
		listeners = append(listeners, mln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, l := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	s.log.Info("upstream listening", slog.String("addr", ln.Addr().String()))
	if mln != nil {
		s.log.Info("metrics listening", slog.String("addr", mln.Addr().String()))
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				// Requests parked on long delays may outlive the grace period.
				s.log.Warn("forcing close", slog.String("error", err.Error()))
				_ = srv.Close()
			}
		}
		return nil
	})

	return g.Wait()
}

// Close releases the rate limiter backend.
func (s *Server) Close() error {
	if s.limiter != nil {
		return s.limiter.Close()
	}
	return nil
}
