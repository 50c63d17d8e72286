// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"io"
	"net/http"

	"github.com/jorsol/oras-go/pkg/auth"
	"github.com/jorsol/oras-go/pkg/credentials"
	"github.com/jorsol/oras-go/pkg/ocierrors"
	"github.com/jorsol/oras-go/pkg/transport"
)

// Registry is a client for one registry host. Construct with New; the
// zero value is not usable. A *Registry is safe for concurrent use.
type Registry struct {
	host   string
	scheme string

	negotiator *auth.Negotiator
}

// Option configures a Registry at construction time. There is no
// runtime mutation after New returns.
type Option func(*options)

type options struct {
	creds    credentials.Provider
	insecure bool
}

// WithAuthProvider sets the credential provider used to resolve
// usernames/passwords or bearer tokens for this registry's host.
func WithAuthProvider(p credentials.Provider) Option {
	return func(o *options) { o.creds = p }
}

// WithBasicAuth is shorthand for WithAuthProvider(credentials.Static{...}).
func WithBasicAuth(user, pass string) Option {
	return WithAuthProvider(credentials.Static{Username: user, Password: pass})
}

// WithInsecure switches the registry to plain HTTP and disables TLS
// verification. Both effects travel together, never independently.
func WithInsecure() Option {
	return func(o *options) { o.insecure = true }
}

// New constructs a Registry for host (e.g. "registry-1.docker.io" or
// "localhost:5000").
func New(host string, opts ...Option) *Registry {
	cfg := &options{creds: credentials.Chain{}}
	for _, opt := range opts {
		opt(cfg)
	}
	topts := transport.Options{Insecure: cfg.insecure}
	t := transport.New(topts)
	return &Registry{
		host:       host,
		scheme:     topts.Scheme(),
		negotiator: auth.New(t, cfg.creds),
	}
}

// Ping performs a GET /v2/ to warm authentication and confirm the host
// speaks the distribution API. A 200 or any successful auth negotiation
// is success; anything else is reported as Unauthorized or a transport
// error.
func (r *Registry) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, basePath(r.host, r.scheme), nil)
	if err != nil {
		return err
	}
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return ocierrors.Transport(resp.StatusCode, "ping to %s returned %d", r.host, resp.StatusCode)
}

// do sends req through the auth negotiator and classifies any response
// whose status is not in successCodes into the right error kind. When
// the status is in successCodes the error is nil and the caller owns
// resp.Body.
func (r *Registry) do(req *http.Request, successCodes ...int) (*http.Response, error) {
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return nil, err
	}
	for _, code := range successCodes {
		if resp.StatusCode == code {
			return resp, nil
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ocierrors.New(ocierrors.NotFound, "%s %s: not found", req.Method, req.URL)
	case http.StatusUnauthorized:
		return nil, ocierrors.New(ocierrors.Unauthorized, "%s %s: unauthorized", req.Method, req.URL)
	case http.StatusMethodNotAllowed:
		return nil, ocierrors.New(ocierrors.DeleteNotSupported, "%s %s: method not allowed", req.Method, req.URL)
	default:
		return nil, ocierrors.Transport(resp.StatusCode, "%s %s returned %d", req.Method, req.URL, resp.StatusCode)
	}
}
