// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport provides the HTTP client every other component in
// this module sends requests through: TLS policy, the redirect
// header-stripping rule, and the retry policy of section 5, all in one
// place so the registry client and auth negotiator never touch
// *http.Client directly.
package transport

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// maxRedirects bounds the number of hops the transport will follow
// before giving up, per the spec's fixed cap.
const maxRedirects = 10

// Options configures a Transport. The zero value is a safe, verified
// default; construct once, never mutate after New.
type Options struct {
	// Insecure switches the scheme to http and disables TLS verification.
	// Both effects are explicit and travel together; there is no way to
	// get one without the other.
	Insecure bool

	// ConnectTimeout bounds establishing the TCP/TLS connection. Zero
	// means the 30s default from the spec.
	ConnectTimeout time.Duration

	// RetryMax bounds retry attempts for transient failures; the first
	// try is not counted as a retry. Zero means the default of 4 retries,
	// so at most 5 attempts in all.
	RetryMax int
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return 30 * time.Second
}

func (o Options) retryMax() int {
	if o.RetryMax > 0 {
		return o.RetryMax
	}
	return 4
}

// Transport is a configured *http.Client wrapper enforcing this module's
// TLS, redirect, and retry policy.
type Transport struct {
	client *http.Client
}

// New builds a Transport from opts.
func New(opts Options) *Transport {
	base := cleanhttp.DefaultPooledTransport()
	base.DialContext = (&net.Dialer{Timeout: opts.connectTimeout()}).DialContext
	if opts.Insecure {
		if base.TLSClientConfig == nil {
			base.TLSClientConfig = &tls.Config{}
		}
		base.TLSClientConfig.InsecureSkipVerify = true
	}

	retryClient := retryablehttp.NewClient()
	// The inner client is the one that follows redirects, so the
	// header-stripping rule has to be installed on it.
	retryClient.HTTPClient = &http.Client{Transport: base, CheckRedirect: checkRedirect}
	retryClient.RetryMax = opts.retryMax()
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 200 * time.Millisecond * time.Duration(1<<uint(opts.retryMax()))
	// DefaultBackoff honors Retry-After on a 429 or 503 and otherwise
	// doubles the wait from RetryWaitMin on each attempt; jitter is added
	// to the doubled wait only.
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) && resp.Header.Get("Retry-After") != "" {
			return wait
		}
		return wait/2 + time.Duration(rand.Int63n(int64(wait/2)+1))
	}
	retryClient.CheckRetry = checkRetry
	// Once retries are exhausted on a retryable status, hand back that
	// last response so callers can still read its status code.
	retryClient.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if err != nil && resp != nil {
			resp.Body.Close()
			resp = nil
		}
		return resp, err
	}
	retryClient.Logger = nil

	std := retryClient.StandardClient()
	std.CheckRedirect = checkRedirect

	return &Transport{client: std}
}

// Scheme returns "http" or "https" depending on whether opts requested an
// insecure registry.
func (o Options) Scheme() string {
	if o.Insecure {
		return "http"
	}
	return "https"
}

// Client returns the underlying *http.Client. Callers needing a
// *retryablehttp.Client directly (e.g. for streaming uploads where a
// response body must be inspected before the retry loop is allowed to
// re-read it) have to construct their own; this package's retry and
// redirect policy functions are unexported.
func (t *Transport) Client() *http.Client { return t.client }

// Do executes req, honoring ctx for cancellation. A cancelled context
// surfaces as ocierrors.Cancelled rather than a generic transport error.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr == context.Canceled || ctxErr == context.DeadlineExceeded {
			return nil, ocierrors.Wrap(ocierrors.Cancelled, ctxErr, "request to %s cancelled", req.URL)
		}
		return nil, ocierrors.Wrap(ocierrors.TransportErrorKind, err, "request to %s failed", req.URL)
	}
	return resp, nil
}

// checkRetry decides whether a completed attempt should be retried:
// connection-level failures, and 5xx other than 501, plus 408 and 429.
// Everything else (including other 4xx) is terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.ErrorPropagatedRetryPolicy(ctx, resp, err)
	}
	if resp == nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusNotImplemented:
		return false, nil
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// checkRedirect implements the header-stripping and hop-count rules: up
// to maxRedirects hops, and Authorization/Cookie dropped the moment the
// target host differs from the original request's host.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return ocierrors.New(ocierrors.TransportErrorKind, "stopped after %d redirects", maxRedirects)
	}
	origin := via[0]
	if req.URL.Host != origin.URL.Host {
		req.Header.Del("Authorization")
		req.Header.Del("Cookie")
	}
	return nil
}
