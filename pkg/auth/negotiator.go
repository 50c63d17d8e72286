// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package auth executes the registry authentication dance: Basic, and
// Bearer via a WWW-Authenticate challenge followed by a token-endpoint
// fetch. Tokens are cached on the Negotiator instance, never in a
// process-wide singleton, so two Negotiators never share state.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/jorsol/oras-go/pkg/credentials"
	"github.com/jorsol/oras-go/pkg/ocierrors"
	"github.com/jorsol/oras-go/pkg/transport"
)

// Scheme identifies the authentication scheme named by a challenge.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeBasic
	SchemeBearer
)

// Challenge is the parsed form of a WWW-Authenticate header.
type Challenge struct {
	Scheme  Scheme
	Realm   string
	Service string
	Scope   string
}

var challengeParamRe = regexp.MustCompile(`([a-zA-Z]+)="([^"]*)"`)

// ParseChallenge parses a single WWW-Authenticate header value.
func ParseChallenge(header string) (Challenge, error) {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok {
		return Challenge{}, ocierrors.New(ocierrors.Unauthorized, "malformed WWW-Authenticate header %q", header)
	}
	var c Challenge
	switch strings.ToLower(scheme) {
	case "basic":
		c.Scheme = SchemeBasic
	case "bearer":
		c.Scheme = SchemeBearer
	default:
		return Challenge{}, ocierrors.New(ocierrors.Unauthorized, "unsupported auth scheme %q", scheme)
	}
	for _, m := range challengeParamRe.FindAllStringSubmatch(rest, -1) {
		switch strings.ToLower(m[1]) {
		case "realm":
			c.Realm = m[2]
		case "service":
			c.Service = m[2]
		case "scope":
			c.Scope = m[2]
		}
	}
	return c, nil
}

type tokenCacheKey struct {
	host, scope string
}

// deriveScope precomputes the resource scope a request will need, the
// same "repository:<name>:<actions>" convention the distribution token
// spec uses, so a token can be looked up in the cache before the first
// attempt instead of only after a 401 names the scope explicitly.
func deriveScope(req *http.Request) string {
	path := strings.TrimPrefix(req.URL.Path, "/v2/")
	if path == req.URL.Path || path == "" {
		return "registry:catalog:*"
	}
	repo := path
	for _, marker := range []string{"/manifests/", "/blobs/uploads/", "/blobs/", "/tags/list", "/referrers/"} {
		if i := strings.Index(path, marker); i >= 0 {
			repo = path[:i]
			break
		}
	}
	action := "pull"
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		action = "pull,push"
	case http.MethodDelete:
		action = "pull,delete"
	}
	return fmt.Sprintf("repository:%s:%s", repo, action)
}

// Negotiator attaches credentials to outgoing requests and carries out
// the Basic/Bearer dance on a 401, per host.
type Negotiator struct {
	transport *transport.Transport
	creds     credentials.Provider

	mu     sync.Mutex
	tokens map[tokenCacheKey]string
}

// New builds a Negotiator that resolves credentials from creds and sends
// requests through t.
func New(t *transport.Transport, creds credentials.Provider) *Negotiator {
	return &Negotiator{transport: t, creds: creds, tokens: make(map[tokenCacheKey]string)}
}

// Do sends req, attaching cached credentials if any are known for its
// host, and performs the full auth dance (and one retry) on a 401.
func (n *Negotiator) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	cred := n.creds.Resolve(host)
	scope := deriveScope(req)

	attempt, err := n.cloneWithAuth(req, cred, n.cachedToken(host, scope))
	if err != nil {
		return nil, err
	}
	resp, err := n.transport.Do(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challengeHeader := resp.Header.Get("WWW-Authenticate")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if challengeHeader == "" {
		return nil, ocierrors.New(ocierrors.Unauthorized, "401 from %s with no WWW-Authenticate header", req.URL)
	}
	challenge, err := ParseChallenge(challengeHeader)
	if err != nil {
		return nil, err
	}

	n.invalidate(host, scope)

	var retryReq *http.Request
	switch challenge.Scheme {
	case SchemeBasic:
		retryReq, err = n.cloneWithAuth(req, cred, "")
	case SchemeBearer:
		var token string
		token, err = n.negotiateBearer(req.Context(), challenge, cred)
		if err == nil {
			n.cache(host, scope, token)
			retryReq, err = n.cloneWithAuth(req, credentials.Credential{}, token)
		}
	default:
		err = ocierrors.New(ocierrors.Unauthorized, "unsupported challenge scheme from %s", req.URL)
	}
	if err != nil {
		return nil, err
	}

	resp2, err := n.transport.Do(retryReq)
	if err != nil {
		return nil, err
	}
	if resp2.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp2.Body)
		resp2.Body.Close()
		return nil, ocierrors.New(ocierrors.Unauthorized, "authentication failed for %s", req.URL)
	}
	return resp2, nil
}

// negotiateBearer fetches a token from the challenge's realm using
// Basic credentials (or none, for anonymous pulls of public repos).
func (n *Negotiator) negotiateBearer(ctx context.Context, c Challenge, cred credentials.Credential) (string, error) {
	u, err := url.Parse(c.Realm)
	if err != nil {
		return "", ocierrors.Wrap(ocierrors.Unauthorized, err, "invalid realm %q", c.Realm)
	}
	q := u.Query()
	if c.Service != "" {
		q.Set("service", c.Service)
	}
	if c.Scope != "" {
		q.Set("scope", c.Scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if cred.Kind == credentials.UsernamePassword {
		req.SetBasicAuth(cred.Username, cred.Password)
	}

	resp, err := n.transport.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", ocierrors.Transport(resp.StatusCode, "token endpoint %s returned %d", u, resp.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ocierrors.Wrap(ocierrors.Unauthorized, err, "decoding token response from %s", u)
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	return "", ocierrors.New(ocierrors.Unauthorized, "token endpoint %s returned no token", u)
}

// cloneWithAuth copies req and attaches either a cached bearer token, an
// explicit token, or the resolved credential's Basic header.
func (n *Negotiator) cloneWithAuth(req *http.Request, cred credentials.Credential, token string) (*http.Request, error) {
	clone := req.Clone(req.Context())
	switch {
	case token != "":
		clone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	case cred.Kind == credentials.UsernamePassword:
		clone.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred.Username+":"+cred.Password)))
	case cred.Kind == credentials.BearerToken:
		clone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", cred.Token))
	}
	return clone, nil
}

func (n *Negotiator) cachedToken(host, scope string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[tokenCacheKey{host, scope}]
}

func (n *Negotiator) cache(host, scope, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[tokenCacheKey{host, scope}] = token
}

func (n *Negotiator) invalidate(host, scope string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tokens, tokenCacheKey{host, scope})
}
