// Package collyfetcher implements the page Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/changhorizon/content-collector/internal/collector"
)

// Fetcher fetches single pages through a cloned Colly collector per
// request. Content kind is classified from the response headers only; the
// body is never sniffed.
type Fetcher struct {
	hasher        collector.Hasher
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher. The hasher digests each response body for
// dedup and integrity checks downstream.
func New(hasher collector.Hasher) *Fetcher {
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; synchronous is the zero value, so pass no option.
	c := colly.NewCollector()
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		hasher:        hasher,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, req collector.FetchRequest) (collector.FetchResult, error) {
	var (
		result   collector.FetchResult
		fetchErr error
	)
	c, err := f.buildCollector(req, &result, &fetchErr)
	if err != nil {
		return collector.FetchResult{}, err
	}

	if err := f.runCollector(ctx, c, pageURL, &fetchErr); err != nil {
		return collector.FetchResult{}, err
	}

	if f.hasher != nil && len(result.Body) > 0 {
		hash, err := f.hasher.Hash(result.Body)
		if err != nil {
			return collector.FetchResult{}, fmt.Errorf("hash body: %w", err)
		}
		result.BodyHash = hash
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	req collector.FetchRequest,
	result *collector.FetchResult,
	fetchErr *error,
) (*colly.Collector, error) {
	c := f.baseCollector.Clone()
	c.IgnoreRobotsTxt = true

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	if req.Proxy != "" {
		transport, err := proxyTransport(req.Proxy)
		if err != nil {
			return nil, err
		}
		c.WithTransport(transport)
	} else {
		c.WithTransport(f.transport)
	}

	c.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		*result = collector.FetchResult{
			StatusCode:  r.StatusCode,
			ContentKind: classifyContent(contentType),
			ContentType: contentType,
			Headers:     r.Headers.Clone(),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	c.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})

	return c, nil
}

func (f *Fetcher) runCollector(ctx context.Context, c *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

// classifyContent maps a Content-Type header to a content kind. Anything
// that is not an HTML document is a stream.
func classifyContent(contentType string) collector.FetchContentKind {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == "text/html" || ct == "application/xhtml+xml" {
		return collector.ContentHTML
	}
	return collector.ContentStream
}

func proxyTransport(proxy string) (*http.Transport, error) {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	transport := newHTTPTransport()
	transport.Proxy = http.ProxyURL(proxyURL)
	return transport, nil
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
