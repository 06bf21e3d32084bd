// Package collyfetcher implements tender.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Config controls collector behavior and the worker pool.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxConcurrency int
	MaxBodyBytes   int
	Headers        http.Header
}

// DefaultHeaders are sent with every request.
var DefaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8"},
	"Accept-Language": {"fr-FR,fr;q=0.9,en;q=0.8"},
}

// Fetcher retrieves batches of URLs with a bounded pool of colly collectors.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	guard         tender.RateGuard
	clock         tender.Clock
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New builds a Fetcher. guard may be nil, in which case guarded requests are not checked.
func New(cfg Config, guard tender.RateGuard, clock tender.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	// Clones share the backend client, so its timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)
	// robots.txt is enforced by the guard before the request is issued.
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// colly truncates silently at MaxBodySize; reading one byte past the cap tells a body of
	// exactly the cap apart from a larger one.
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes + 1
	}
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		guard:         guard,
		clock:         clock,
		logger:        logger,
	}
}

// FetchAll fetches every request with at most MaxConcurrency in flight and returns one
// result per request, in request order. Each request settles on its own deadline; a
// cancelled parent context does not cut its siblings short.
func (f *Fetcher) FetchAll(ctx context.Context, requests []tender.FetchRequest) []tender.FetchResult {
	results := make([]tender.FetchResult, len(requests))
	sem := make(chan struct{}, f.cfg.MaxConcurrency)
	detached := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req tender.FetchRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(detached, f.cfg.Timeout)
			defer cancel()
			results[i] = f.fetchOne(reqCtx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, req tender.FetchRequest) tender.FetchResult {
	base := tender.FetchResult{Source: req.Source, URL: req.URL, FetchedAt: f.clock.Now()}

	if req.Guarded && f.guard != nil {
		if failed, blocked := f.consultGuard(ctx, base); blocked {
			f.observe(failed)
			return failed
		}
	}

	resp, err := f.fetch(ctx, req.URL)
	base.FetchedAt = f.clock.Now()
	if err != nil {
		kind := classify(err, resp.statusCode)
		failed := base.AsFailed(kind, err.Error())
		failed.StatusCode = resp.statusCode
		f.logger.Warn("fetch failed",
			zap.String("source", base.SourceName()),
			zap.String("url", req.URL),
			zap.String("failure", string(kind)),
			zap.Error(err),
		)
		f.observe(failed)
		return failed
	}

	result := base
	result.Status = tender.FetchOK
	result.Payload = resp.body
	result.ContentType = resp.contentType
	result.StatusCode = resp.statusCode
	result.SizeBytes = len(resp.body)
	if f.cfg.MaxBodyBytes > 0 && len(resp.body) > f.cfg.MaxBodyBytes {
		result = result.AsFailed(tender.FailureTooLarge, fmt.Sprintf("body exceeds %d byte cap", f.cfg.MaxBodyBytes))
		result.Payload = nil
	}
	f.observe(result)
	return result
}

func (f *Fetcher) consultGuard(ctx context.Context, base tender.FetchResult) (tender.FetchResult, bool) {
	if !f.guard.Allowed(ctx, base.URL, f.cfg.UserAgent) {
		f.logger.Info("fetch disallowed by robots.txt",
			zap.String("source", base.SourceName()),
			zap.String("url", base.URL),
		)
		return base.AsFailed(tender.FailureDisallowed, "disallowed by robots.txt"), true
	}
	delay, _ := f.guard.CrawlDelay(ctx, base.URL, f.cfg.UserAgent)
	if err := f.guard.Wait(ctx, base.URL, delay); err != nil {
		kind := tender.FailureRateLimited
		if errors.Is(err, context.DeadlineExceeded) {
			kind = tender.FailureTimeout
		} else if errors.Is(err, context.Canceled) {
			kind = tender.FailureCanceled
		}
		return base.AsFailed(kind, err.Error()), true
	}
	return tender.FetchResult{}, false
}

func (f *Fetcher) observe(r tender.FetchResult) {
	status := string(r.Status)
	if !r.OK() {
		status = string(r.Failure)
	}
	metrics.ObserveFetch(r.URL, status, r.SizeBytes)
}

type rawResponse struct {
	statusCode  int
	contentType string
	body        []byte
}

type visitOutcome struct {
	resp rawResponse
	err  error
}

// fetch runs one Visit on its own goroutine. The hook targets belong to that goroutine and
// are only handed back through the channel, so a visit that outlives ctx never touches the
// returned response.
func (f *Fetcher) fetch(ctx context.Context, url string) (rawResponse, error) {
	done := make(chan visitOutcome, 1)
	go func() {
		var (
			resp     rawResponse
			fetchErr error
		)
		collector := f.buildCollector(&resp, &fetchErr)
		err := collector.Visit(url)
		switch {
		case fetchErr != nil:
			err = fmt.Errorf("colly response failed: %w", fetchErr)
		case err != nil:
			err = fmt.Errorf("colly visit failed: %w", err)
		}
		done <- visitOutcome{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return rawResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		return out.resp, out.err
	}
}

func (f *Fetcher) buildCollector(result *rawResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *rawResponse, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = rawResponse{
			statusCode:  r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func classify(err error, statusCode int) tender.FailureKind {
	switch {
	case errors.Is(err, context.Canceled):
		return tender.FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return tender.FailureTimeout
	case statusCode >= 400:
		return tender.FailureHTTPStatus
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return tender.FailureTimeout
	}
	if strings.Contains(err.Error(), "Client.Timeout") || strings.Contains(err.Error(), "deadline exceeded") {
		return tender.FailureTimeout
	}
	return tender.FailureNetwork
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
