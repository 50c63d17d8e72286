// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jorsol/oras-go/pkg/digestutil"
	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// chunkSize is the unit PushBlobChunked PATCHes at a time.
const chunkSize = 5 * 1024 * 1024

// BlobExists performs a HEAD against the blob digest. ok is true and
// size is populated on 200; ok is false on 404. Any Docker-Content-Digest
// header present in the response must equal dgst.
func (r *Registry) BlobExists(ctx context.Context, repo string, dgst digest.Digest) (ok bool, size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, blobPath(r.host, r.scheme, repo, dgst.String()), nil)
	if err != nil {
		return false, 0, err
	}
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return false, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, 0, ocierrors.Transport(resp.StatusCode, "HEAD %s returned %d", req.URL, resp.StatusCode)
	}
	if got := resp.Header.Get("Docker-Content-Digest"); got != "" && got != dgst.String() {
		return false, 0, ocierrors.New(ocierrors.DigestMismatch, "HEAD %s: header digest %s != requested %s", req.URL, got, dgst)
	}
	size, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return true, size, nil
}

// GetBlob streams the blob identified by dgst. The returned reader
// verifies the digest as it is consumed; Close returns DigestMismatch if
// the full stream's digest does not match dgst. Redirects to alternate
// content storage are followed transparently by the transport.
func (r *Registry) GetBlob(ctx context.Context, repo string, dgst digest.Digest) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobPath(r.host, r.scheme, repo, dgst.String()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	algo := digestutil.Algorithm(dgst.Algorithm().String())
	return &verifyingBlobBody{
		body:     resp.Body,
		verifier: digestutil.NewVerifyingReader(resp.Body, algo),
		expected: dgst,
	}, nil
}

type verifyingBlobBody struct {
	body     io.ReadCloser
	verifier *digestutil.VerifyingReader
	expected digest.Digest
}

func (v *verifyingBlobBody) Read(p []byte) (int, error) { return v.verifier.Read(p) }

func (v *verifyingBlobBody) Close() error {
	closeErr := v.body.Close()
	if got := v.verifier.Digest(); got != v.expected {
		return ocierrors.New(ocierrors.DigestMismatch, "blob %s: computed digest %s", v.expected, got)
	}
	return closeErr
}

// MountOrPush attempts a cross-repo mount of dgst from fromRepo into
// repo; on 202 (mount unsupported by the registry) it falls back to a
// normal PushBlob using content. Skip policy (HEAD-before-upload)
// applies in both paths.
func (r *Registry) MountOrPush(ctx context.Context, repo, fromRepo string, dgst digest.Digest, content io.ReaderAt, size int64) (ocispec.Descriptor, error) {
	if exists, existingSize, err := r.BlobExists(ctx, repo, dgst); err != nil {
		return ocispec.Descriptor{}, err
	} else if exists {
		return ocispec.Descriptor{Digest: dgst, Size: existingSize}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blobMountPath(r.host, r.scheme, repo, dgst.String(), fromRepo), nil)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusCreated {
		return ocispec.Descriptor{Digest: dgst, Size: size}, nil
	}
	// Fall back to a normal upload; the registry didn't support mount.
	return r.PushBlob(ctx, repo, dgst, io.NewSectionReader(content, 0, size), size)
}

// PushBlob uploads content (size bytes) as a single monolithic PUT,
// skipping the upload entirely if the blob already exists.
func (r *Registry) PushBlob(ctx context.Context, repo string, dgst digest.Digest, content io.Reader, size int64) (ocispec.Descriptor, error) {
	if exists, existingSize, err := r.BlobExists(ctx, repo, dgst); err != nil {
		return ocispec.Descriptor{}, err
	} else if exists {
		return ocispec.Descriptor{Digest: dgst, Size: existingSize}, nil
	}

	location, err := r.initiateUpload(ctx, repo)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	putURL := appendDigestQuery(location, dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, content)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.do(req, http.StatusCreated)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return ocispec.Descriptor{Digest: dgst, Size: size}, nil
}

// PushBlobChunked uploads content in chunkSize pieces via PATCH, then
// finalizes with an empty-body PUT carrying the digest. On a 416 from a
// PATCH it resumes from the offset named by the server's Range header.
func (r *Registry) PushBlobChunked(ctx context.Context, repo string, dgst digest.Digest, content io.ReaderAt, size int64) (ocispec.Descriptor, error) {
	if exists, existingSize, err := r.BlobExists(ctx, repo, dgst); err != nil {
		return ocispec.Descriptor{}, err
	} else if exists {
		return ocispec.Descriptor{Digest: dgst, Size: existingSize}, nil
	}

	location, err := r.initiateUpload(ctx, repo)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	var offset int64
	for offset < size {
		end := offset + chunkSize
		if end > size {
			end = size
		}
		section := io.NewSectionReader(content, offset, end-offset)

		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, section)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		req.ContentLength = end - offset
		req.Header.Set("Content-Range", fmt.Sprintf("%d-%d", offset, end-1))
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := r.negotiator.Do(req)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted:
			next := resp.Header.Get("Location")
			if next == "" {
				return ocispec.Descriptor{}, ocierrors.New(ocierrors.TransportErrorKind, "PATCH %s: no Location in response", location)
			}
			location = resolveLocation(req, resp, next)
			offset = end
		case http.StatusRequestedRangeNotSatisfiable:
			rng := resp.Header.Get("Range")
			resumeFrom, parseErr := parseRangeEnd(rng)
			if parseErr != nil {
				return ocispec.Descriptor{}, ocierrors.Wrap(ocierrors.TransportErrorKind, parseErr, "PATCH %s: unparsable Range %q", location, rng)
			}
			offset = resumeFrom
		default:
			return ocispec.Descriptor{}, ocierrors.Transport(resp.StatusCode, "PATCH %s returned %d", location, resp.StatusCode)
		}
	}

	putURL := appendDigestQuery(location, dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, nil)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	resp, err := r.do(req, http.StatusCreated)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return ocispec.Descriptor{Digest: dgst, Size: size}, nil
}

// initiateUpload POSTs to start an upload session and returns the
// resolved absolute Location for the next step, handling both absolute
// and path-relative forms (resolved against the request URL that
// actually produced the 202 — the redirected URL, if the POST itself was
// redirected).
func (r *Registry) initiateUpload(ctx context.Context, repo string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blobUploadInitPath(r.host, r.scheme, repo), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.negotiator.Do(req)
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", ocierrors.Transport(resp.StatusCode, "POST %s returned %d", req.URL, resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", ocierrors.New(ocierrors.TransportErrorKind, "POST %s: no Location in 202 response", req.URL)
	}
	return resolveLocation(req, resp, location), nil
}

// resolveLocation implements the Location-resolution rule: an absolute
// URL is used as-is; a path-relative one is resolved against the
// request's own final URL (resp.Request, which reflects any redirect the
// transport followed), not the original registry host.
func resolveLocation(req *http.Request, resp *http.Response, location string) string {
	loc, err := url.Parse(location)
	if err != nil || loc.IsAbs() {
		return location
	}
	base := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return base.ResolveReference(loc).String()
}

// appendDigestQuery appends "digest=<dgst>" to rawURL, preserving any
// existing query string.
func appendDigestQuery(rawURL string, dgst digest.Digest) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("digest", dgst.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// parseRangeEnd extracts the ending offset+1 from a "Range: 0-<n>" header
// so an upload can resume immediately after the server's last accepted
// byte.
func parseRangeEnd(rng string) (int64, error) {
	_, after, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", rng)
	}
	end, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return 0, err
	}
	return end + 1, nil
}

// DeleteBlob issues DELETE for dgst; 405 is reported as DeleteNotSupported.
func (r *Registry) DeleteBlob(ctx context.Context, repo string, dgst digest.Digest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, blobPath(r.host, r.scheme, repo, dgst.String()), nil)
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
