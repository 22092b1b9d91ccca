package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/3xpluto/go-upstream/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Echo.Quiet = true
	srv, err := New(cfg, discardLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	ln, mln := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, mln) }()

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://" + ln.Addr().String() + "/any/path")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from echo listener, got %d", resp.StatusCode)
	}

	resp, err = client.Get("http://" + mln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "upstream_http_in_flight_requests") {
		t.Fatalf("expected in-flight gauge in metrics output")
	}

	resp, err = client.Get("http://" + mln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunReportsBindFailure(t *testing.T) {
	ln := listen(t)
	defer ln.Close()

	cfg := config.Default()
	addr := ln.Addr().(*net.TCPAddr)
	cfg.Server.Host = addr.IP.String()
	cfg.Server.Port = addr.Port

	srv, err := New(cfg, discardLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	err = srv.Run(context.Background())
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected bind error, got %v", err)
	}
}

func TestNewRejectsBadTrustedProxies(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TrustedProxies = []string{"nope"}
	if _, err := New(cfg, discardLogger(), Options{}); err == nil {
		t.Fatal("expected trusted proxy parse error")
	}
}

func TestRedisBackendFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   1,
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
		Memory:  config.MemoryRLConfig{TTLSeconds: 60, CleanupSeconds: 60},
	}
	srv, err := New(cfg, discardLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	if srv.limiter == nil {
		t.Fatal("expected a limiter")
	}
	if _, ok := srv.limiter.(interface{ Len() int }); !ok {
		t.Fatalf("expected memory limiter fallback, got %T", srv.limiter)
	}
}
