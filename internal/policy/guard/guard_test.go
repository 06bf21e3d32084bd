package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

type fakeRobots struct {
	disallow map[string]bool
	delay    time.Duration
}

func (f fakeRobots) Allowed(_ context.Context, rawURL, _ string) bool { return !f.disallow[rawURL] }

func (f fakeRobots) CrawlDelay(context.Context, string, string) (time.Duration, bool) {
	return f.delay, f.delay > 0
}

func TestGuardDelegatesToRobots(t *testing.T) {
	t.Parallel()

	g := New(fakeRobots{disallow: map[string]bool{"https://a.example/private": true}, delay: time.Second}, nil, nil)
	ctx := context.Background()
	require.False(t, g.Allowed(ctx, "https://a.example/private", "bot"))
	require.True(t, g.Allowed(ctx, "https://a.example/avis", "bot"))
	d, ok := g.CrawlDelay(ctx, "https://a.example/avis", "bot")
	require.True(t, ok)
	require.Equal(t, time.Second, d)
}

func TestGuardNilRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	g := New(nil, nil, nil)
	require.True(t, g.Allowed(context.Background(), "https://any.example/", "bot"))
	_, ok := g.CrawlDelay(context.Background(), "https://any.example/", "bot")
	require.False(t, ok)
}

func TestGuardRegisterAppliesSourceRates(t *testing.T) {
	t.Parallel()

	g := New(nil, ratelimit.New(ratelimit.Config{}), nil)
	g.Register([]tender.Source{
		{Name: "slow", ListingURL: "https://slow.example/list", RateLimit: "1/h"},
		{Name: "bad", ListingURL: "https://bad.example/list", RateLimit: "often"},
	})

	require.NoError(t, g.Wait(context.Background(), "https://slow.example/list", 0))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.Wait(ctx, "https://slow.example/list", 0), ratelimit.ErrRateLimited)

	require.NoError(t, g.Wait(context.Background(), "https://bad.example/list", 0))
	require.NoError(t, g.Wait(context.Background(), "https://bad.example/list", 0))
}
