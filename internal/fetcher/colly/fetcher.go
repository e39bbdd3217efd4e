// Package collyfetcher implements monitor.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/metrics"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// DefaultUserAgent mimics a desktop browser; some sites reject unidentified clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       monitor.RateLimiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// rawResponse is what the collector hooks capture before decoding.
type rawResponse struct {
	url         string
	statusCode  int
	contentType string
	body        []byte
	err         error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter monitor.RateLimiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// The same URL is polled repeatedly, so revisits must be allowed.
	c := colly.NewCollector(colly.AllowURLRevisit())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch issues a GET for url and returns its visible text, narrowed to
// selector when one is given.
func (f *Fetcher) Fetch(ctx context.Context, url, selector string) (monitor.Page, error) {
	if selector != "" {
		if _, err := cascadia.ParseGroup(selector); err != nil {
			return monitor.Page{}, &monitor.FetchError{
				URL:  url,
				Kind: monitor.FetchParse,
				Err:  fmt.Errorf("selector %q: %w", selector, err),
			}
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return monitor.Page{}, &monitor.FetchError{URL: url, Kind: monitor.FetchNetwork, Err: err}
		}
	}

	start := time.Now()
	var raw rawResponse
	collector := f.buildCollector(&raw)
	runErr := f.runCollector(ctx, collector, url)
	elapsed := time.Since(start)
	metrics.ObserveFetch(url, elapsed)
	if err := classify(url, runErr, raw); err != nil {
		return monitor.Page{}, err
	}

	text, encoding, matched, err := extractText(raw.body, raw.contentType, selector)
	if err != nil {
		return monitor.Page{}, &monitor.FetchError{URL: url, Kind: monitor.FetchParse, Err: err}
	}
	if selector != "" && !matched {
		f.logger.Warn("selector matched nothing; using full page text",
			zap.String("url", url),
			zap.String("selector", selector),
		)
	}
	return monitor.Page{
		URL:             raw.url,
		StatusCode:      raw.statusCode,
		Text:            text,
		Encoding:        encoding,
		Duration:        elapsed,
		SelectorMatched: selector == "" || matched,
	}, nil
}

func (f *Fetcher) buildCollector(raw *rawResponse) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)
	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)
	f.configureCollectorHooks(collector, raw)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, raw *rawResponse) {
	hooks.OnResponse(func(r *colly.Response) {
		raw.url = r.Request.URL.String()
		raw.statusCode = r.StatusCode
		if r.Headers != nil {
			raw.contentType = decodedContentType(r.Headers.Get("Content-Type"))
		}
		raw.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		raw.err = err
		if r != nil {
			raw.statusCode = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
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
		return nil
	}
}

// decodedContentType accounts for colly transcoding bodies whose header
// declares a charset; those bodies arrive as UTF-8.
func decodedContentType(header string) string {
	if strings.Contains(strings.ToLower(header), "charset") {
		return "text/html; charset=utf-8"
	}
	return header
}

func classify(url string, runErr error, raw rawResponse) error {
	err := runErr
	if err == nil {
		err = raw.err
	}
	if err == nil {
		return nil
	}
	if raw.statusCode >= http.StatusBadRequest || (raw.statusCode != 0 && raw.err != nil) {
		return &monitor.FetchError{URL: url, Kind: monitor.FetchStatus, StatusCode: raw.statusCode, Err: err}
	}
	return &monitor.FetchError{URL: url, Kind: monitor.FetchNetwork, Err: err}
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
