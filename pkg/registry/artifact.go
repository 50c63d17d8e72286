// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jorsol/oras-go/pkg/digestutil"
	"github.com/jorsol/oras-go/pkg/ref"
)

// PushArtifactOptions configures PushArtifact.
type PushArtifactOptions struct {
	ArtifactType string
	Annotations  map[string]string
	// Config overrides the default empty config; its Bytes (or FilePath)
	// is pushed as the manifest's config blob.
	Config *Layer
}

// PushArtifact implements the high-level push convenience: each of
// layers is uploaded as a blob (skipping ones already present), the
// config is resolved (caller-supplied, or the shared empty config,
// pushed once and reused thereafter), and a manifest referencing them
// all is PUT under reference's tag, or its content digest if untagged.
func (r *Registry) PushArtifact(ctx context.Context, repo string, reference ref.Reference, layers []Layer, opts PushArtifactOptions) (ocispec.Manifest, ocispec.Descriptor, error) {
	layerDescs := make([]ocispec.Descriptor, 0, len(layers))
	for _, l := range layers {
		desc, err := r.pushLayer(ctx, repo, l, ocispec.MediaTypeImageLayer)
		if err != nil {
			return ocispec.Manifest{}, ocispec.Descriptor{}, err
		}
		layerDescs = append(layerDescs, desc)
	}

	configDesc, err := r.resolveConfig(ctx, repo, opts.Config)
	if err != nil {
		return ocispec.Manifest{}, ocispec.Descriptor{}, err
	}

	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: opts.ArtifactType,
		Config:       configDesc,
		Layers:       layerDescs,
		Annotations:  opts.Annotations,
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Manifest{}, ocispec.Descriptor{}, err
	}

	target := reference.Tag
	if target == "" {
		target = digestutil.FromBytes(digestutil.Default, body).String()
	}
	dgst, err := r.PutManifest(ctx, repo, target, ocispec.MediaTypeImageManifest, body)
	if err != nil {
		return ocispec.Manifest{}, ocispec.Descriptor{}, err
	}

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    dgst,
		Size:      int64(len(body)),
	}
	return manifest, desc, nil
}

// pushLayer uploads l's content, computing its digest/size first if the
// caller didn't already set them on l.Descriptor, and fills in
// defaultMediaType when the caller left MediaType empty.
func (r *Registry) pushLayer(ctx context.Context, repo string, l Layer, defaultMediaType string) (ocispec.Descriptor, error) {
	content, dgst, size, err := layerContent(l)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer content.Close()

	desc, err := r.PushBlob(ctx, repo, dgst, content, size)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc.MediaType = l.Descriptor.MediaType
	if desc.MediaType == "" {
		desc.MediaType = defaultMediaType
	}
	desc.Annotations = l.Descriptor.Annotations
	return desc, nil
}

// layerContent opens l's content (a file or in-memory bytes) and
// computes its digest and size, preferring a digest (and, for a file, a
// size) the caller already supplied on l.Descriptor; in-memory bytes
// always report len(l.Bytes) as their size.
func layerContent(l Layer) (io.ReadCloser, digest.Digest, int64, error) {
	if l.FilePath != "" {
		f, err := os.Open(l.FilePath)
		if err != nil {
			return nil, "", 0, err
		}
		dgst := l.Descriptor.Digest
		size := l.Descriptor.Size
		if dgst == "" {
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, "", 0, err
			}
			size = info.Size()
			d, err := digestutil.FromFile(digestutil.Default, l.FilePath)
			if err != nil {
				f.Close()
				return nil, "", 0, err
			}
			dgst = d
		}
		return f, dgst, size, nil
	}
	dgst := l.Descriptor.Digest
	if dgst == "" {
		dgst = digestutil.FromBytes(digestutil.Default, l.Bytes)
	}
	return io.NopCloser(bytes.NewReader(l.Bytes)), dgst, int64(len(l.Bytes)), nil
}

// resolveConfig pushes cfg if given, otherwise the shared empty config,
// skipping the upload if it is already present.
func (r *Registry) resolveConfig(ctx context.Context, repo string, cfg *Layer) (ocispec.Descriptor, error) {
	if cfg == nil {
		desc, err := r.PushBlob(ctx, repo, EmptyConfigDescriptor.Digest, bytes.NewReader(EmptyConfigBytes), int64(len(EmptyConfigBytes)))
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		desc.MediaType = ocispec.MediaTypeEmptyJSON
		return desc, nil
	}
	return r.pushLayer(ctx, repo, *cfg, ocispec.MediaTypeImageConfig)
}
