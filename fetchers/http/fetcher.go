// Package spoolhttp turns an http(s) URL into a readable byte stream for
// the download engine.
package spoolhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultTimeout = 3 * time.Minute

// Fetcher issues GET requests and hands back the response body as a
// stream. Any non-2xx status is a failure; no bytes are delivered for it.
type Fetcher struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

// NewFetcher builds a fetcher around client; a nil client gets a plain
// http.Client with a sane timeout. headers are set on every request,
// after the User-Agent.
func NewFetcher(client *http.Client, userAgent string, headers map[string]string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		headers:   headers,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("error creating GET request: %v", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Connection", "keep-alive")
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("error executing GET request: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, -1, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, parseContentLength(resp.Header.Get("Content-Length")), nil
}

// parseContentLength treats a missing, unparsable or negative header as
// "length unknown" (-1) rather than an error; the value is advisory only.
func parseContentLength(value string) int64 {
	if value == "" {
		return -1
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil || size < 0 {
		return -1
	}
	return size
}
