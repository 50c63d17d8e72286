// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package copier drives a manifest graph between a registry.Registry and
// a layout.Layout, deduplicating by digest equality in both directions:
// a blob already present at the destination is never re-transferred.
// Push uploads children fully before the parent manifest that references
// them, so a registry never sees a dangling-reference PUT. Copy writes a
// manifest's own blob into the layout before its children and registers
// the top-level descriptor in index.json only after all of them.
package copier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jorsol/oras-go/pkg/layout"
	"github.com/jorsol/oras-go/pkg/ocierrors"
	"github.com/jorsol/oras-go/pkg/ref"
	"github.com/jorsol/oras-go/pkg/registry"
)

// PlatformFilter decides whether a multi-platform index entry should be
// materialized. A nil filter includes every entry.
type PlatformFilter func(*ocispec.Platform) bool

// Options configures Copy. The zero value copies everything.
type Options struct {
	// Platforms, when non-nil, is consulted for every index entry that
	// carries a Platform; entries it rejects are skipped rather than
	// recursed into. Entries without a Platform are always included.
	Platforms PlatformFilter
}

// Copy pulls the manifest graph rooted at r from reg into lay, registering
// the top-level descriptor under r's tag (if any). Re-running Copy against
// an already-materialized graph is a HEAD-only no-op: every blob and
// manifest presence check happens before any GET.
func Copy(ctx context.Context, reg *registry.Registry, repo string, r ref.Reference, lay *layout.Layout, opts Options) (ocispec.Descriptor, error) {
	headers, err := reg.HeadManifest(ctx, repo, r.Addressed())
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	desc, err := copyManifestOrIndex(ctx, reg, repo, headers.Digest, headers.ContentType, lay, opts)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	tag := r.Tag
	if r.Digest != "" {
		tag = ""
	}
	if err := lay.AddManifestToIndex(desc, tag); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// copyManifestOrIndex fetches and materializes the manifest or index at
// dgst (already known present via a HEAD), then recurses into its
// children before returning its own descriptor.
func copyManifestOrIndex(ctx context.Context, reg *registry.Registry, repo string, dgst digest.Digest, contentType string, lay *layout.Layout, opts Options) (ocispec.Descriptor, error) {
	if lay.BlobExists(dgst) {
		// Already materialized on a prior copy; still walk children so a
		// partially-completed copy finishes, but skip re-fetching this
		// node's own bytes.
		body, err := readLocalBlob(lay, dgst)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		return finishCopyFromBytes(ctx, reg, repo, dgst, contentType, body, lay, opts)
	}

	result, err := reg.GetManifest(ctx, repo, dgst.String())
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if err := lay.PutBlob(ctx, dgst, bytes.NewReader(result.Bytes), int64(len(result.Bytes))); err != nil {
		return ocispec.Descriptor{}, err
	}
	return finishCopyFromBytes(ctx, reg, repo, dgst, contentType, result.Bytes, lay, opts)
}

func finishCopyFromBytes(ctx context.Context, reg *registry.Registry, repo string, dgst digest.Digest, contentType string, body []byte, lay *layout.Layout, opts Options) (ocispec.Descriptor, error) {
	switch {
	case registry.IsIndexType(contentType):
		var idx ocispec.Index
		if err := json.Unmarshal(body, &idx); err != nil {
			return ocispec.Descriptor{}, ocierrors.Wrap(ocierrors.InvalidManifestHeaders, err, "parsing index %s", dgst)
		}
		for _, m := range idx.Manifests {
			if opts.Platforms != nil && m.Platform != nil && !opts.Platforms(m.Platform) {
				continue
			}
			childHeaders, err := reg.HeadManifest(ctx, repo, m.Digest.String())
			if err != nil {
				return ocispec.Descriptor{}, err
			}
			if _, err := copyManifestOrIndex(ctx, reg, repo, m.Digest, childHeaders.ContentType, lay, opts); err != nil {
				return ocispec.Descriptor{}, err
			}
		}
		return ocispec.Descriptor{MediaType: contentType, Digest: dgst, Size: int64(len(body))}, nil

	case registry.IsManifestType(contentType):
		var man ocispec.Manifest
		if err := json.Unmarshal(body, &man); err != nil {
			return ocispec.Descriptor{}, ocierrors.Wrap(ocierrors.InvalidManifestHeaders, err, "parsing manifest %s", dgst)
		}
		descs := append([]ocispec.Descriptor{man.Config}, man.Layers...)
		for _, d := range descs {
			if err := copyBlob(ctx, reg, repo, d, lay); err != nil {
				return ocispec.Descriptor{}, err
			}
		}
		return ocispec.Descriptor{MediaType: contentType, Digest: dgst, Size: int64(len(body))}, nil

	default:
		return ocispec.Descriptor{}, ocierrors.New(ocierrors.InvalidManifestHeaders, "Unsupported content type: %s", contentType)
	}
}

// copyBlob returns at once if lay already has d; otherwise it HEADs d at
// the registry to confirm presence and streams it straight into lay,
// verified by the registry client's own digest check.
func copyBlob(ctx context.Context, reg *registry.Registry, repo string, d ocispec.Descriptor, lay *layout.Layout) error {
	if lay.BlobExists(d.Digest) {
		return nil
	}
	exists, size, err := reg.BlobExists(ctx, repo, d.Digest)
	if err != nil {
		return err
	}
	if !exists {
		return ocierrors.New(ocierrors.NotFound, "blob %s not found in %s", d.Digest, repo)
	}
	if size == 0 {
		size = d.Size
	}

	body, err := reg.GetBlob(ctx, repo, d.Digest)
	if err != nil {
		return err
	}
	putErr := lay.PutBlob(ctx, d.Digest, body, size)
	closeErr := body.Close()
	if putErr != nil {
		return putErr
	}
	return closeErr
}

func readLocalBlob(lay *layout.Layout, dgst digest.Digest) ([]byte, error) {
	r, err := lay.GetBlob(dgst)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Push pushes the manifest graph registered under r's tag in lay to reg,
// uploading every child blob (HEAD-first, skipping ones the registry
// already has) before the manifest that references it.
func Push(ctx context.Context, lay *layout.Layout, r ref.Reference, reg *registry.Registry, repo string) (ocispec.Descriptor, error) {
	var top ocispec.Descriptor
	if r.Tag != "" {
		found, err := lay.FindManifest(r.Tag)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		top = found
	} else if r.Digest != "" {
		top = ocispec.Descriptor{Digest: digest.Digest(r.Digest)}
	} else {
		return ocispec.Descriptor{}, ocierrors.New(ocierrors.InvalidReference, "reference %s has neither tag nor digest", r)
	}

	putRef := r.Tag
	if putRef == "" {
		putRef = top.Digest.String()
	}
	if err := pushNode(ctx, lay, top, reg, repo, putRef); err != nil {
		return ocispec.Descriptor{}, err
	}
	return top, nil
}

// pushNode pushes desc's children and then PUTs desc itself under
// reference: the tag for the top-level node, the digest for every child.
func pushNode(ctx context.Context, lay *layout.Layout, desc ocispec.Descriptor, reg *registry.Registry, repo, reference string) error {
	body, err := readLocalBlob(lay, desc.Digest)
	if err != nil {
		return err
	}

	switch {
	case registry.IsIndexType(desc.MediaType) || isIndexBody(body):
		var idx ocispec.Index
		if err := json.Unmarshal(body, &idx); err != nil {
			return ocierrors.Wrap(ocierrors.InvalidManifestHeaders, err, "parsing local index %s", desc.Digest)
		}
		for _, m := range idx.Manifests {
			if err := pushNode(ctx, lay, m, reg, repo, m.Digest.String()); err != nil {
				return err
			}
		}
		mediaType := desc.MediaType
		if mediaType == "" {
			mediaType = idx.MediaType
		}
		if _, err := reg.PutManifest(ctx, repo, reference, mediaType, body); err != nil {
			return err
		}

	default:
		var man ocispec.Manifest
		if err := json.Unmarshal(body, &man); err != nil {
			return ocierrors.Wrap(ocierrors.InvalidManifestHeaders, err, "parsing local manifest %s", desc.Digest)
		}
		for _, d := range append([]ocispec.Descriptor{man.Config}, man.Layers...) {
			if err := pushBlobNode(ctx, lay, d, reg, repo); err != nil {
				return err
			}
		}
		mediaType := desc.MediaType
		if mediaType == "" {
			mediaType = man.MediaType
		}
		if _, err := reg.PutManifest(ctx, repo, reference, mediaType, body); err != nil {
			return err
		}
	}
	return nil
}

func pushBlobNode(ctx context.Context, lay *layout.Layout, desc ocispec.Descriptor, reg *registry.Registry, repo string) error {
	r, err := lay.GetBlob(desc.Digest)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = reg.PushBlob(ctx, repo, desc.Digest, r, desc.Size)
	return err
}

// isIndexBody is a last-resort discriminator for a locally-stored blob
// whose descriptor carries no media type: it peeks the schemaVersion's
// companion mediaType field rather than guessing from structure.
func isIndexBody(body []byte) bool {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return registry.IsIndexType(probe.MediaType)
}
