// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRedirectStripsAuthorizationCrossOrigin(t *testing.T) {
	var targetGotAuth atomic.Bool

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			targetGotAuth.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", target.URL+"/blob")
		w.WriteHeader(http.StatusFound)
	}))
	defer origin.Close()

	tp := New(Options{})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, origin.URL+"/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := tp.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if targetGotAuth.Load() {
		t.Fatal("Authorization header leaked across a cross-origin redirect")
	}
}

func TestRedirectKeepsAuthorizationSameOrigin(t *testing.T) {
	var sawAuthOnSecond atomic.Bool
	var hits int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Location", "/final")
			w.WriteHeader(http.StatusFound)
			return
		}
		if r.Header.Get("Authorization") != "" {
			sawAuthOnSecond.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tp := New(Options{})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := tp.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if !sawAuthOnSecond.Load() {
		t.Fatal("Authorization header was stripped on a same-origin redirect")
	}
}

func TestInsecureOptionScheme(t *testing.T) {
	if got := (Options{Insecure: true}).Scheme(); got != "http" {
		t.Fatalf("Scheme() = %q, want http", got)
	}
	if got := (Options{}).Scheme(); got != "https" {
		t.Fatalf("Scheme() = %q, want https", got)
	}
}

func TestRetriesOn503(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tp := New(Options{RetryMax: 5})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/x", nil)
	resp, err := tp.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3 (two failures then success)", hits)
	}
}

func TestDoesNotRetryOn404(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tp := New(Options{RetryMax: 5})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/x", nil)
	resp, err := tp.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if hits != 1 {
		t.Fatalf("hits = %d, want 1 (404 is not retried)", hits)
	}
}
