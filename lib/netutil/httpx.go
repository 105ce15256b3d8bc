// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the HTTP plumbing shared by the build
// resolver and the blob fetchers.
//
// Get bounds body reads so that a misbehaving CDN cannot exhaust
// memory: JSON descriptors at MaxResponseSize, blobs at BlobLimit of
// the size the manifest or descriptor declares.
package netutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxResponseSize bounds JSON descriptor reads and blobs with no
// declared size: 64 MB. Real build descriptors are a few kilobytes.
const MaxResponseSize int64 = 64 << 20

// blobSlack is added to every declared blob size.
const blobSlack int64 = 64 << 10

// BlobLimit returns the body limit for a blob declared as size bytes.
// The margin covers frame overhead on incompressible payloads. A size
// of zero or less means undeclared and yields MaxResponseSize.
func BlobLimit(size int64) int64 {
	if size <= 0 {
		return MaxResponseSize
	}
	return size + size/16 + blobSlack
}

// DefaultUserAgent is sent when configuration does not override it.
const DefaultUserAgent = "chunksync/1"

// StatusError is returned for any non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// NewClient returns an HTTP client with the given per-request timeout
// that stamps every request with userAgent.
func NewClient(timeout time.Duration, userAgent string) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			base:      http.DefaultTransport,
			userAgent: userAgent,
		},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (transport *userAgentTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.Header.Get("User-Agent") == "" {
		request = request.Clone(request.Context())
		request.Header.Set("User-Agent", transport.userAgent)
	}
	return transport.base.RoundTrip(request)
}

// Get fetches url and returns the body, read up to limit bytes. A body
// longer than limit is an error rather than a silent truncation.
func Get(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, &StatusError{
			URL:        url,
			StatusCode: response.StatusCode,
			Body:       ErrorBody(response.Body),
		}
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", url, limit)
	}
	return data, nil
}

// ErrorBody reads the first 512 bytes of an error response for use in
// diagnostics. Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return string(data)
}
