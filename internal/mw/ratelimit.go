package mw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/3xpluto/go-upstream/internal/netx"
	"github.com/3xpluto/go-upstream/internal/ratelimit"
)

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   float64
}

// IPResolver picks the client address used as the rate-limit key.
// Forwarding headers are honored only when the direct peer is trusted.
type IPResolver struct {
	Trusted *netx.CIDRSet
}

func (r IPResolver) ClientIP(req *http.Request) string {
	peer := parseRemoteAddr(req.RemoteAddr)
	if !peer.IsValid() {
		return req.RemoteAddr
	}
	if r.Trusted.Contains(peer) {
		if first, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ","); first != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap().String()
			}
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(req.Header.Get("X-Real-Ip"))); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer.String()
}

func parseRemoteAddr(remoteAddr string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	addr, err := netip.ParseAddr(remoteAddr)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// RateLimit throttles each client IP to cfg.RPS with cfg.Burst.
// Limiter errors fail open.
func RateLimit(limiter ratelimit.Limiter, ipr IPResolver, cfg RateLimitConfig, log *slog.Logger, next http.Handler) http.Handler {
	if !cfg.Enabled || limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ipr.ClientIP(r)
		dec, err := limiter.Allow(r.Context(), "rl:ip:"+client, cfg.RPS, cfg.Burst, 1)
		if err != nil {
			log.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		// Allowed requests pass through with no extra headers so the echo
		// response head stays exactly as padded.
		if !dec.Allowed {
			retry := dec.RetryAfterSeconds
			w.Header().Set("X-RateLimit-Limit-RPS", trimFloat(cfg.RPS))
			w.Header().Set("X-RateLimit-Burst", trimFloat(cfg.Burst))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retry)*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":               "rate_limited",
				"client":              client,
				"retry_after_seconds": retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		s = "0"
	}
	return s
}
