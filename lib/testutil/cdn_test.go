// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"net/http"
	"testing"
)

func get(t *testing.T, cdn *CDN, path string) (int, string) {
	t.Helper()
	response, err := cdn.Client().Get(cdn.URL(path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return response.StatusCode, string(body)
}

func TestCDNServesAndCounts(t *testing.T) {
	cdn := NewCDN(t)
	cdn.Put("chunks/a", []byte("alpha"))

	status, body := get(t, cdn, "/chunks/a")
	if status != http.StatusOK || body != "alpha" {
		t.Fatalf("GET = %d %q, want 200 \"alpha\"", status, body)
	}
	if status, _ := get(t, cdn, "chunks/missing"); status != http.StatusNotFound {
		t.Errorf("missing object status = %d, want 404", status)
	}
	if got := cdn.Requests("chunks/a"); got != 1 {
		t.Errorf("Requests = %d, want 1", got)
	}
	if got := cdn.RequestsWithPrefix("chunks/"); got != 2 {
		t.Errorf("RequestsWithPrefix = %d, want 2", got)
	}
}

func TestCDNFailCount(t *testing.T) {
	cdn := NewCDN(t)
	cdn.Put("blob", []byte("x"))
	cdn.Fail("blob", 2)

	for i := range 2 {
		if status, _ := get(t, cdn, "blob"); status != http.StatusServiceUnavailable {
			t.Fatalf("request %d status = %d, want 503", i+1, status)
		}
	}
	if status, _ := get(t, cdn, "blob"); status != http.StatusOK {
		t.Fatalf("status after injected failures = %d, want 200", status)
	}
}

func TestCDNFailForeverUntilHeal(t *testing.T) {
	cdn := NewCDN(t)
	cdn.Put("blob", []byte("x"))
	cdn.Fail("blob", -1)

	for range 3 {
		if status, _ := get(t, cdn, "blob"); status != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", status)
		}
	}
	cdn.Heal("blob")
	if status, _ := get(t, cdn, "blob"); status != http.StatusOK {
		t.Fatalf("status after Heal = %d, want 200", status)
	}
}
