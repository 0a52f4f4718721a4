// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/arkival/seqscan/internal/scrape"
)

// Config controls collector behavior. URLTemplate must contain one %d verb
// that receives the source ID.
type Config struct {
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration
	// MinDelay spaces requests across all workers; zero disables limiting.
	MinDelay time.Duration
}

// Fetcher implements scrape.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *rate.Limiter
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.URLTemplate == "" {
		return nil, fmt.Errorf("fetcher.url_template is required")
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	var limiter *rate.Limiter
	if cfg.MinDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		transport:     transport,
		baseCollector: c,
	}, nil
}

// Fetch executes a single HTTP GET for the given source ID and returns the
// raw page. 404/410 responses surface as ErrNotFound; 429, 5xx, and network
// failures surface as ErrTransient so callers can tell boundary signals from
// retryable trouble.
func (f *Fetcher) Fetch(ctx context.Context, id int64) (scrape.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return scrape.Page{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	url := fmt.Sprintf(f.cfg.URLTemplate, id)

	var (
		page     scrape.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(id, start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return scrape.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) buildCollector(
	id int64,
	start time.Time,
	page *scrape.Page,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		*page = scrape.Page{
			ID:         id,
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = classifyStatus(id, r.StatusCode)
			return
		}
		*fetchErr = fmt.Errorf("%w: fetch id %d: %v", scrape.ErrTransient, id, err)
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("%w: visit %s: %v", scrape.ErrTransient, url, err)
		}
		return nil
	}
}

// classifyStatus maps HTTP status codes onto the outcome error taxonomy.
func classifyStatus(id int64, status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: id %d (status %d)", scrape.ErrNotFound, id, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: id %d (status %d)", scrape.ErrTransient, id, status)
	default:
		return fmt.Errorf("fetch id %d: unexpected status %d", id, status)
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
