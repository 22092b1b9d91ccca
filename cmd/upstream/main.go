// Command upstream accepts any HTTP request, traces it to stdout and answers
// with a JSON body carrying a short request id. Delays and sizes are
// configurable so clients and proxies can be tested against a slow or bulky
// backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/3xpluto/go-upstream/internal/config"
	"github.com/3xpluto/go-upstream/internal/logging"
	"github.com/3xpluto/go-upstream/internal/server"
)

type flags struct {
	configPath   string
	validateOnly bool

	host         string
	port         int
	quiet        bool
	noColor      bool
	delayHeaders uint64
	delayBody    uint64
	sizeHeaders  uint64
	sizeBody     uint64

	metricsAddr  string
	logLevel     string
	logFormat    string
	maxInFlight  int
	maxBodyBytes int64
	rlRPS        float64
	rlBurst      float64
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *flags) {
	var f flags
	cmd := &cobra.Command{
		Use:   "upstream",
		Short: "Echo server that accepts anything and answers with a request id",
		Long: `upstream accepts every method on every path, prints a trace of each
request to stdout and replies 200 with {"id": "..."}.

Use --delay-headers and --delay-body to slow the response down, and
--size-headers and --size-body to inflate it to a target byte size.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, &f)
			if err != nil {
				slog.Error("config", slog.String("error", err.Error()))
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format)
			if f.validateOnly {
				log.Info("config ok")
				return nil
			}
			return run(cmd.Context(), cfg, log)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "path to yaml config")
	fs.BoolVar(&f.validateOnly, "validate-config", false, "validate config and exit")
	fs.StringVar(&f.host, "host", "127.0.0.1", "listen host")
	fs.IntVarP(&f.port, "port", "p", 8080, "listen port")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "suppress request traces")
	fs.BoolVar(&f.noColor, "no-color", false, "print traces without styling")
	fs.Uint64Var(&f.delayHeaders, "delay-headers", 0, "milliseconds to wait before sending headers")
	fs.Uint64Var(&f.delayBody, "delay-body", 0, "milliseconds to wait before sending the body")
	fs.Uint64Var(&f.sizeHeaders, "size-headers", 0, "target size of the response head in bytes")
	fs.Uint64Var(&f.sizeBody, "size-body", 0, "target size of the response body in bytes")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "text", "text or json")
	fs.IntVar(&f.maxInFlight, "max-in-flight", 0, "reject requests beyond this many in flight (0 = unlimited)")
	fs.Int64Var(&f.maxBodyBytes, "max-body-bytes", 10<<20, "cap on request body bytes read for tracing")
	fs.Float64Var(&f.rlRPS, "rate-limit-rps", 0, "per-client requests per second (enables rate limiting)")
	fs.Float64Var(&f.rlBurst, "rate-limit-burst", 0, "per-client burst (defaults to rps)")
	return cmd, &f
}

// resolveConfig loads the file, lets explicitly set flags win, then
// validates the result.
func resolveConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("quiet") {
		cfg.Echo.Quiet = f.quiet
	}
	if changed("no-color") {
		cfg.Echo.NoColor = f.noColor
	}
	if changed("delay-headers") {
		cfg.Echo.DelayHeadersMs = ptr(f.delayHeaders)
	}
	if changed("delay-body") {
		cfg.Echo.DelayBodyMs = ptr(f.delayBody)
	}
	if changed("size-headers") {
		cfg.Echo.SizeHeadersBytes = ptr(f.sizeHeaders)
	}
	if changed("size-body") {
		cfg.Echo.SizeBodyBytes = ptr(f.sizeBody)
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("max-in-flight") {
		cfg.Server.MaxInFlight = f.maxInFlight
	}
	if changed("max-body-bytes") {
		cfg.Server.MaxBodyBytes = f.maxBodyBytes
	}
	if changed("rate-limit-rps") {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RPS = f.rlRPS
		if cfg.RateLimit.Burst == 0 {
			cfg.RateLimit.Burst = f.rlRPS
		}
	}
	if changed("rate-limit-burst") {
		cfg.RateLimit.Burst = f.rlBurst
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config, log *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, log, server.Options{Trace: os.Stdout})
	if err != nil {
		log.Error("failed to build server", slog.String("error", err.Error()))
		return err
	}
	if err := srv.Run(ctx); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func ptr[T any](v T) *T { return &v }
