// Package guard combines robots.txt and rate limiting into the fetch policy consulted
// before listing fetches.
package guard

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// RobotsPolicy answers robots.txt questions.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, agent string) bool
	CrawlDelay(ctx context.Context, rawURL, agent string) (time.Duration, bool)
}

// Guard implements tender.RateGuard.
type Guard struct {
	robots  RobotsPolicy
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Guard. A nil robots policy allows every URL.
func New(robots RobotsPolicy, limiter *ratelimit.Limiter, logger *zap.Logger) *Guard {
	if robots == nil {
		robots = allowAll{}
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{robots: robots, limiter: limiter, logger: logger}
}

// Register applies each source's declared rate to its listing host.
func (g *Guard) Register(sources []tender.Source) {
	for _, src := range sources {
		if src.RateLimit == "" {
			continue
		}
		r, err := ratelimit.ParseRate(src.RateLimit)
		if err != nil {
			g.logger.Warn("ignoring invalid source rate limit",
				zap.String("source", src.Name),
				zap.String("rate_limit", src.RateLimit),
				zap.Error(err),
			)
			continue
		}
		u, err := url.Parse(src.ListingURL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		g.limiter.SetHostRate(u.Hostname(), r)
	}
}

// Allowed implements tender.RateGuard.
func (g *Guard) Allowed(ctx context.Context, rawURL, agent string) bool {
	return g.robots.Allowed(ctx, rawURL, agent)
}

// CrawlDelay implements tender.RateGuard.
func (g *Guard) CrawlDelay(ctx context.Context, rawURL, agent string) (time.Duration, bool) {
	return g.robots.CrawlDelay(ctx, rawURL, agent)
}

// Wait implements tender.RateGuard.
func (g *Guard) Wait(ctx context.Context, rawURL string, minInterval time.Duration) error {
	return g.limiter.Wait(ctx, rawURL, minInterval)
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string, string) bool { return true }

func (allowAll) CrawlDelay(context.Context, string, string) (time.Duration, bool) { return 0, false }
