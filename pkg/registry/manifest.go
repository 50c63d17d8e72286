// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jorsol/oras-go/pkg/digestutil"
	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// ManifestHeaders is the result of a manifest/index HEAD: the wire
// content type and the digest the registry reports for it.
type ManifestHeaders struct {
	ContentType string
	Digest      digest.Digest
}

// HeadManifest performs a HEAD against reference (a tag or a digest) and
// returns the content type and digest the registry reports, failing with
// the exact InvalidManifestHeaders messages this module's callers depend
// on for error surfacing.
func (r *Registry) HeadManifest(ctx context.Context, repo, reference string) (ManifestHeaders, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestPath(r.host, r.scheme, repo, reference), nil)
	if err != nil {
		return ManifestHeaders{}, err
	}
	req.Header.Set("Accept", acceptHeader())
	resp, err := r.do(req, http.StatusOK, http.StatusNoContent)
	if err != nil {
		return ManifestHeaders{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return ManifestHeaders{}, ocierrors.New(ocierrors.InvalidManifestHeaders, "Content type not found in headers")
	}
	dgstHeader := resp.Header.Get("Docker-Content-Digest")
	if dgstHeader == "" {
		return ManifestHeaders{}, ocierrors.New(ocierrors.InvalidManifestHeaders, "Manifest digest not found in headers")
	}
	if !IsManifestType(ct) && !IsIndexType(ct) {
		return ManifestHeaders{}, ocierrors.New(ocierrors.InvalidManifestHeaders, "Unsupported content type: %s", ct)
	}
	dgst, err := digestutil.Parse(dgstHeader)
	if err != nil {
		return ManifestHeaders{}, err
	}
	return ManifestHeaders{ContentType: ct, Digest: dgst}, nil
}

// GetManifest fetches the manifest or index body at reference. If the
// registry omits Docker-Content-Digest, the digest is computed from the
// response bytes instead of failing.
func (r *Registry) GetManifest(ctx context.Context, repo, reference string) (ManifestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestPath(r.host, r.scheme, repo, reference), nil)
	if err != nil {
		return ManifestResult{}, err
	}
	req.Header.Set("Accept", acceptHeader())
	resp, err := r.do(req, http.StatusOK)
	if err != nil {
		return ManifestResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ManifestResult{}, err
	}

	ct := resp.Header.Get("Content-Type")
	if !IsManifestType(ct) && !IsIndexType(ct) {
		return ManifestResult{}, ocierrors.New(ocierrors.InvalidManifestHeaders, "Unsupported content type: %s", ct)
	}

	var dgst digest.Digest
	if h := resp.Header.Get("Docker-Content-Digest"); h != "" {
		dgst, err = digestutil.Parse(h)
		if err != nil {
			return ManifestResult{}, err
		}
	} else {
		dgst = digestutil.FromBytes(digestutil.Default, body)
	}
	return ManifestResult{MediaType: ct, Digest: dgst, Bytes: body}, nil
}

// PutManifest uploads body under reference (typically a tag) with the
// given content type, and returns the digest the registry reports as
// authoritative for the bytes it received.
func (r *Registry) PutManifest(ctx context.Context, repo, reference, mediaType string, body []byte) (digest.Digest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, manifestPath(r.host, r.scheme, repo, reference), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", mediaType)
	resp, err := r.do(req, http.StatusCreated)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if h := resp.Header.Get("Docker-Content-Digest"); h != "" {
		return digestutil.Parse(h)
	}
	return digestutil.FromBytes(digestutil.Default, body), nil
}

// DeleteManifest issues DELETE against a digest reference; 405 is
// reported as DeleteNotSupported.
func (r *Registry) DeleteManifest(ctx context.Context, repo string, dgst digest.Digest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, manifestPath(r.host, r.scheme, repo, dgst.String()), nil)
	if err != nil {
		return err
	}
	resp, err := r.do(req, http.StatusAccepted)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// TagPage is one page of a paginated tag listing; Next is the URL named
// by the response's Link header, empty once exhausted.
type TagPage struct {
	Tags []string
	Next string
}

// ListTags fetches one page of /tags/list. Callers wanting the full set
// should loop, passing each page's Next as the next call's pageURL, until
// Next is empty; an empty pageURL starts from the beginning.
func (r *Registry) ListTags(ctx context.Context, repo, pageURL string, limit int) (TagPage, error) {
	target := pageURL
	if target == "" {
		target = tagsListPath(r.host, r.scheme, repo)
		if limit > 0 {
			target = appendQueryInt(target, "n", limit)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return TagPage{}, err
	}
	resp, err := r.do(req, http.StatusOK)
	if err != nil {
		return TagPage{}, err
	}
	defer resp.Body.Close()

	var body TagList
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TagPage{}, err
	}
	return TagPage{Tags: body.Tags, Next: parseNextLink(resp.Header.Get("Link"))}, nil
}

// GetReferrers fetches the referrers index for dgst, falling back to the
// tag-schema lookup (the digest's algorithm-hex rewritten as a tag) if
// the registry doesn't implement the referrers endpoint.
func (r *Registry) GetReferrers(ctx context.Context, repo string, dgst digest.Digest) (ocispec.Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, referrersPath(r.host, r.scheme, repo, dgst.String()), nil)
	if err != nil {
		return ocispec.Index{}, err
	}
	req.Header.Set("Accept", ocispec.MediaTypeImageIndex)
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return ocispec.Index{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		tagName := strings.ReplaceAll(dgst.String(), ":", "-")
		result, err := r.GetManifest(ctx, repo, tagName)
		if err != nil {
			return ocispec.Index{}, err
		}
		var idx ocispec.Index
		if err := json.Unmarshal(result.Bytes, &idx); err != nil {
			return ocispec.Index{}, ocierrors.Wrap(ocierrors.InvalidManifestHeaders, err, "parsing fallback referrers tag %s", tagName)
		}
		return idx, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ocispec.Index{}, ocierrors.Transport(resp.StatusCode, "GET %s returned %d", req.URL, resp.StatusCode)
	}
	var idx ocispec.Index
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		return ocispec.Index{}, err
	}
	return idx, nil
}
