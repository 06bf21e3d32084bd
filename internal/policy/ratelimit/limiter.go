// Package ratelimit implements token bucket limits per host.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
)

// ErrRateLimited is returned when the next slot for a host lies beyond the caller's deadline.
var ErrRateLimited = errors.New("rate limit slot beyond deadline")

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	hostRates    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRate  string
	DefaultBurst int
}

// New creates a new Limiter. An empty or unparsable default rate means unlimited.
func New(cfg Config) *Limiter {
	r, err := ParseRate(cfg.DefaultRate)
	if err != nil || cfg.DefaultRate == "" {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		hostRates:    make(map[string]rate.Limit),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// ParseRate parses "N/s", "N/m" or "N/h" into a rate.Limit. "0" or "unlimited" mean no limit.
func ParseRate(spec string) (rate.Limit, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" || spec == "0" || spec == "unlimited" {
		return rate.Inf, nil
	}
	count, unit, ok := strings.Cut(spec, "/")
	if !ok {
		unit = "s"
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("parse rate %q: invalid count", spec)
	}
	var per time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "second":
		per = time.Second
	case "m", "min", "minute":
		per = time.Minute
	case "h", "hour":
		per = time.Hour
	default:
		return 0, fmt.Errorf("parse rate %q: unknown unit %q", spec, unit)
	}
	return rate.Limit(n / per.Seconds()), nil
}

// SetHostRate overrides the rate for every URL on host.
func (l *Limiter) SetHostRate(host string, r rate.Limit) {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostRates[host] = r
	if lim, ok := l.limiters[host]; ok {
		lim.SetLimit(r)
	}
}

// Wait blocks until a token is available for the URL's host. A positive minInterval slows
// the host down to at most one request per interval. If the context deadline comes before
// the next token, Wait returns ErrRateLimited immediately.
func (l *Limiter) Wait(ctx context.Context, rawURL string, minInterval time.Duration) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host, minInterval)

	start := time.Now()
	err := limiter.Wait(ctx)
	if err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("%w: %s: %v", ErrRateLimited, host, err)
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (l *Limiter) limiterFor(host string, minInterval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		r, ok := l.hostRates[host]
		if !ok {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	if minInterval > 0 {
		if slower := rate.Every(minInterval); slower < limiter.Limit() {
			limiter.SetLimit(slower)
		}
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
