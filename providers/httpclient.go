package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const RequestTimeout = 30 * time.Second

// maxErrorBody bounds how much of an upstream error body is kept for logs.
const maxErrorBody = 500

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

var acceptLanguages = []string{
	"en-CA,en-US;q=0.9,en;q=0.8",
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-CA,en;q=0.9",
}

// ProxyRotator hands out HTTP clients from a fixed proxy pool, round-robin.
// The index is atomic so concurrent course/date tasks never serialize on it;
// rotation only spreads load, it is not a correctness concern. An empty pool
// is valid and means direct connections only.
type ProxyRotator struct {
	clients []*http.Client
	next    atomic.Uint64
}

func NewProxyRotator(proxyURLs []string, timeout time.Duration) (*ProxyRotator, error) {
	var r ProxyRotator
	for _, raw := range proxyURLs {
		var proxyURL *url.URL
		var err error
		proxyURL, err = url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		r.clients = append(r.clients, &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		})
	}
	return &r, nil
}

// Next returns the next proxy-backed client, or nil when the pool is empty.
func (r *ProxyRotator) Next() *http.Client {
	if r == nil || len(r.clients) == 0 {
		return nil
	}
	var index uint64 = r.next.Add(1) - 1
	return r.clients[index%uint64(len(r.clients))]
}

// RetryClient executes upstream requests with bounded retries and randomized
// backoff. Before each retry it sleeps a duration drawn uniformly from
// [minDelay, minDelay+maxDelay) so many concurrent tasks hitting the same
// provider never retry in lockstep. On final failure it classifies the error:
// 4xx responses are routine (anti-bot, geofencing) and only logged; 5xx and
// network failures are escalated through the ErrorTracker.
type RetryClient struct {
	direct  *http.Client
	proxies *ProxyRotator
	log     *logrus.Entry
	tracker ErrorTracker
	sleep   func(time.Duration)
}

func NewRetryClient(proxies *ProxyRotator, log *logrus.Entry, tracker ErrorTracker) *RetryClient {
	return &RetryClient{
		direct:  &http.Client{Timeout: RequestTimeout},
		proxies: proxies,
		log:     log,
		tracker: tracker,
		sleep:   time.Sleep,
	}
}

func (c *RetryClient) Get(ctx context.Context, courseName, rawURL string, headers map[string]string, maxRetries int, maxDelay, minDelay time.Duration) ([]byte, error) {
	return c.do(ctx, courseName, http.MethodGet, rawURL, nil, "", headers, maxRetries, maxDelay, minDelay)
}

func (c *RetryClient) PostForm(ctx context.Context, courseName, rawURL string, form url.Values, headers map[string]string, maxRetries int, maxDelay, minDelay time.Duration) ([]byte, error) {
	var body []byte = []byte(form.Encode())
	return c.do(ctx, courseName, http.MethodPost, rawURL, body, "application/x-www-form-urlencoded", headers, maxRetries, maxDelay, minDelay)
}

func (c *RetryClient) do(ctx context.Context, courseName, method, rawURL string, body []byte, contentType string, headers map[string]string, maxRetries int, maxDelay, minDelay time.Duration) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Each call independently picks a proxy (or none) and sticks with it for
	// its retries.
	var client *http.Client = c.proxies.Next()
	if client == nil {
		client = c.direct
	}

	var lastErr *FetchError
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var data []byte
		data, lastErr = c.attempt(ctx, client, method, rawURL, body, contentType, headers)
		if lastErr == nil {
			return data, nil
		}

		if attempt < maxRetries {
			var jitter time.Duration
			if maxDelay > 0 {
				jitter = time.Duration(rand.Int63n(int64(maxDelay)))
			}
			c.sleep(minDelay + jitter)
		}
	}

	var fields logrus.Fields = logrus.Fields{
		"course": courseName,
		"url":    rawURL,
		"status": lastErr.StatusCode,
	}
	if lastErr.Expected() {
		c.log.WithFields(fields).Warnf("giving up after %d attempts", maxRetries)
	} else {
		c.log.WithFields(fields).Errorf("giving up after %d attempts", maxRetries)
		if c.tracker != nil {
			c.tracker.CaptureError(lastErr, map[string]string{
				"course": courseName,
				"url":    rawURL,
			})
		}
	}
	return nil, lastErr
}

func (c *RetryClient) attempt(ctx context.Context, client *http.Client, method, rawURL string, body []byte, contentType string, headers map[string]string) ([]byte, *FetchError) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	var req *http.Request
	var err error
	req, err = http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}

	setBrowserHeaders(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var resp *http.Response
	resp, err = client.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Message:    truncatedBody(resp.Body),
		}
	}

	var data []byte
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	return data, nil
}

// setBrowserHeaders makes the request look like an ordinary browser session.
// Callers may override any of these through their own header map.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	// Accept-Encoding is left to the transport: setting it by hand would
	// disable Go's transparent gzip decompression.
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
}

func truncatedBody(r io.Reader) string {
	var data []byte
	var err error
	data, err = io.ReadAll(io.LimitReader(r, maxErrorBody+1))
	if err != nil || len(data) == 0 {
		return "unable to read response body"
	}
	var text string = strings.TrimSpace(string(data))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}
