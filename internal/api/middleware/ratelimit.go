package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/metrics"
)

// Limit defines a fixed-window request budget for one endpoint.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter implements per-IP fixed-window rate limiting backed by Redis.
// Without a Redis client it is a pass-through, so single-node development
// setups work with no extra infrastructure.
type RateLimiter struct {
	client        *redis.Client
	logger        zerolog.Logger
	limits        map[string]Limit
	whitelistIPs  map[string]bool
	whitelistNets []*net.IPNet
}

// NewRateLimiter creates a rate limiter. whitelist entries are single IPs or
// CIDRs exempt from limiting.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, whitelist []string) *RateLimiter {
	rl := &RateLimiter{
		client:       client,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
		limits: map[string]Limit{
			"GET /ws":       {30, time.Minute},
			"GET /presence": {60, time.Minute},
			"GET /stats":    {30, time.Minute},
		},
	}

	for _, entry := range whitelist {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			rl.whitelistNets = append(rl.whitelistNets, ipNet)
			continue
		}
		if net.ParseIP(entry) != nil {
			rl.whitelistIPs[entry] = true
			continue
		}
		logger.Warn().Str("entry", entry).Msg("invalid rate limit whitelist entry ignored")
	}

	return rl
}

// Middleware enforces the configured limits. Redis failures fail open: a
// broken limiter must not take the relay down with it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit, ok := rl.limits[r.Method+" "+r.URL.Path]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + r.URL.Path + ":" + ip

		pipe := rl.client.Pipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, limit.Window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		count := incr.Val()
		remaining := int64(limit.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit.Requests) {
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelistNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP extracts the client address. chi's RealIP middleware has already
// folded X-Forwarded-For into RemoteAddr when trusted.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
