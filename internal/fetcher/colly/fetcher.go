// Package collyfetcher implements bulletin.Source using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/fetcher/selection"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Selection     selection.Config
}

// Fetcher implements bulletin.Source with a single Colly GET per call.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger.Named("colly"),
	}
}

type page struct {
	status int
	body   []byte
}

// Fetch downloads url once and returns the text of the configured region.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var (
		result   page
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)

	start := time.Now()
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Int("status", result.status), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", bulletin.ErrFetch, url, err)
	}
	f.logger.Debug("fetched page",
		zap.String("url", url),
		zap.Int("status", result.status),
		zap.Int("bytes", len(result.body)),
		zap.Duration("duration", time.Since(start)),
	)

	text, err := selection.Text(result.body, f.cfg.Selection)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", bulletin.ErrFetch, url, err)
	}
	return text, nil
}

// buildCollector returns a fresh collector so repeated fetches of the same
// URL are never skipped as already visited.
func (f *Fetcher) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
