// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// CDN is a fake content server. Paths are matched exactly, with or
// without a leading slash.
type CDN struct {
	server *httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]int
	requests map[string]int
}

// NewCDN starts a CDN that is shut down when the test completes.
func NewCDN(t testing.TB) *CDN {
	t.Helper()
	cdn := &CDN{
		objects:  make(map[string][]byte),
		failures: make(map[string]int),
		requests: make(map[string]int),
	}
	cdn.server = httptest.NewServer(http.HandlerFunc(cdn.serve))
	t.Cleanup(cdn.server.Close)
	return cdn
}

// URL returns the server's base URL joined with path.
func (c *CDN) URL(path string) string {
	return c.server.URL + "/" + strings.TrimPrefix(path, "/")
}

// Client returns an HTTP client configured for the server.
func (c *CDN) Client() *http.Client {
	return c.server.Client()
}

// Put publishes data at path, replacing any previous object.
func (c *CDN) Put(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[normalizePath(path)] = data
}

// Fail makes the next count requests for path answer 503. A negative
// count fails every request until [CDN.Heal] is called.
func (c *CDN) Fail(path string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count == 0 {
		delete(c.failures, normalizePath(path))
		return
	}
	c.failures[normalizePath(path)] = count
}

// Heal clears any injected failure for path.
func (c *CDN) Heal(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, normalizePath(path))
}

// Requests returns how many requests path has received, failed ones
// included.
func (c *CDN) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[normalizePath(path)]
}

// RequestsWithPrefix sums request counts over every path starting
// with prefix.
func (c *CDN) RequestsWithPrefix(prefix string) int {
	prefix = normalizePath(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for path, count := range c.requests {
		if strings.HasPrefix(path, prefix) {
			total += count
		}
	}
	return total
}

func (c *CDN) serve(writer http.ResponseWriter, request *http.Request) {
	path := normalizePath(request.URL.Path)

	c.mu.Lock()
	c.requests[path]++
	remaining, failing := c.failures[path]
	if failing && remaining > 0 {
		c.failures[path] = remaining - 1
		if remaining == 1 {
			delete(c.failures, path)
		}
	}
	data, found := c.objects[path]
	c.mu.Unlock()

	if failing {
		http.Error(writer, "injected failure", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.NotFound(writer, request)
		return
	}
	writer.Header().Set("Content-Type", "application/octet-stream")
	writer.Write(data)
}

func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}
