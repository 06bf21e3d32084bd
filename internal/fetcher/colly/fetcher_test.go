package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

func newSiteServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, "<html><body>Avis d'appel d'offres</body></html>")
		case "/bulletin.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = io.WriteString(w, "%PDF-1.4 fake")
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "/big":
			_, _ = io.WriteString(w, strings.Repeat("x", 4096))
		case "/exact":
			_, _ = io.WriteString(w, strings.Repeat("x", 1024))
		case "/late":
			time.Sleep(60 * time.Millisecond)
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>late</html>")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAllReturnsOneResultPerRequestInOrder(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	src := &tender.Source{Name: "demo"}
	f := New(Config{UserAgent: "TenderIngest/test", Timeout: 200 * time.Millisecond, MaxConcurrency: 2}, nil, nil, nil)

	reqs := []tender.FetchRequest{
		{Source: src, URL: srv.URL + "/ok"},
		{Source: src, URL: srv.URL + "/missing"},
		{Source: src, URL: srv.URL + "/slow"},
		{Source: src, URL: srv.URL + "/bulletin.pdf"},
	}
	results := f.FetchAll(context.Background(), reqs)
	require.Len(t, results, len(reqs))

	for i, r := range results {
		require.Equal(t, reqs[i].URL, r.URL)
		require.Equal(t, "demo", r.SourceName())
	}

	require.True(t, results[0].OK())
	require.Contains(t, string(results[0].Payload), "appel d'offres")
	require.Equal(t, http.StatusOK, results[0].StatusCode)

	require.False(t, results[1].OK())
	require.Equal(t, tender.FailureHTTPStatus, results[1].Failure)
	require.Equal(t, http.StatusNotFound, results[1].StatusCode)

	require.False(t, results[2].OK())
	require.Equal(t, tender.FailureTimeout, results[2].Failure)

	require.True(t, results[3].OK())
	require.True(t, results[3].IsPDF())
}

func TestFetchAllEmptyBatch(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil)
	require.Empty(t, f.FetchAll(context.Background(), nil))
}

func TestFetchAllSettlesDespiteCanceledParent(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	f := New(Config{Timeout: time.Second, MaxConcurrency: 1}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := f.FetchAll(ctx, []tender.FetchRequest{{URL: srv.URL + "/ok"}, {URL: srv.URL + "/ok"}})
	require.Len(t, results, 2)
	require.True(t, results[0].OK())
	require.True(t, results[1].OK())
}

func TestFetchMarksOversizedBodies(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	f := New(Config{Timeout: time.Second, MaxBodyBytes: 1024}, nil, nil, nil)

	results := f.FetchAll(context.Background(), []tender.FetchRequest{{URL: srv.URL + "/big"}, {URL: srv.URL + "/exact"}})
	require.Equal(t, tender.FailureTooLarge, results[0].Failure)
	require.Nil(t, results[0].Payload)

	require.True(t, results[1].OK(), "a body of exactly the cap is complete")
	require.Len(t, results[1].Payload, 1024)
}

// Run with -race: responses that land just after the deadline must not reach the result.
func TestTimeoutsDoNotShareResponseState(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	f := New(Config{Timeout: 50 * time.Millisecond, MaxConcurrency: 8}, nil, nil, nil)

	reqs := make([]tender.FetchRequest, 40)
	for i := range reqs {
		reqs[i] = tender.FetchRequest{URL: srv.URL + "/late"}
	}
	results := f.FetchAll(context.Background(), reqs)
	require.Len(t, results, len(reqs))
	for _, r := range results {
		require.False(t, r.OK())
		require.Equal(t, tender.FailureTimeout, r.Failure)
		require.Nil(t, r.Payload)
		require.Zero(t, r.StatusCode)
	}
	// Let the abandoned visits finish so their hooks run while the detector is still watching.
	time.Sleep(100 * time.Millisecond)
}

type fakeGuard struct {
	allowed bool
	delay   time.Duration
	waitErr error
	waited  []time.Duration
}

func (g *fakeGuard) Allowed(context.Context, string, string) bool { return g.allowed }

func (g *fakeGuard) CrawlDelay(context.Context, string, string) (time.Duration, bool) {
	return g.delay, g.delay > 0
}

func (g *fakeGuard) Wait(_ context.Context, _ string, minInterval time.Duration) error {
	g.waited = append(g.waited, minInterval)
	return g.waitErr
}

func TestGuardedFetchDisallowedSkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	guard := &fakeGuard{allowed: false}
	f := New(Config{Timeout: time.Second}, guard, nil, nil)

	results := f.FetchAll(context.Background(), []tender.FetchRequest{{URL: srv.URL + "/ok", Guarded: true}})
	require.Equal(t, tender.FailureDisallowed, results[0].Failure)
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestGuardedFetchRateLimited(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	guard := &fakeGuard{allowed: true, delay: 2 * time.Second, waitErr: errors.New("rate limited")}
	f := New(Config{Timeout: time.Second}, guard, nil, nil)

	results := f.FetchAll(context.Background(), []tender.FetchRequest{{URL: srv.URL + "/ok", Guarded: true}})
	require.Equal(t, tender.FailureRateLimited, results[0].Failure)
	require.Equal(t, []time.Duration{2 * time.Second}, guard.waited)
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestUnguardedFetchIgnoresGuard(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newSiteServer(t, &hits)
	guard := &fakeGuard{allowed: false}
	f := New(Config{Timeout: time.Second}, guard, nil, nil)

	results := f.FetchAll(context.Background(), []tender.FetchRequest{{URL: srv.URL + "/ok"}})
	require.True(t, results[0].OK())
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, nil, nil)
	var result rawResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
	})
	if result.statusCode != http.StatusCreated || string(result.body) != "body" || result.contentType != "text/html" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
	if result.statusCode != http.StatusBadGateway {
		t.Fatalf("expected status from error response, got %d", result.statusCode)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		want   tender.FailureKind
	}{
		{"deadline", context.DeadlineExceeded, 0, tender.FailureTimeout},
		{"canceled", context.Canceled, 0, tender.FailureCanceled},
		{"status", errors.New("Not Found"), 404, tender.FailureHTTPStatus},
		{"client timeout", errors.New("Get x: Client.Timeout exceeded while awaiting headers"), 0, tender.FailureTimeout},
		{"refused", errors.New("dial tcp: connection refused"), 0, tender.FailureNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, classify(tc.err, tc.status))
		})
	}
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
