// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Legacy docker media types a registry may still return; the OCI
// counterparts come from ocispec.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// knownManifestTypes and knownIndexTypes are the closed sets from the
// wire media-types table; anything outside them is reported verbatim in
// an InvalidManifestHeaders error.
var (
	knownManifestTypes = map[string]bool{
		ocispec.MediaTypeImageManifest: true,
		MediaTypeDockerManifest:        true,
	}
	knownIndexTypes = map[string]bool{
		ocispec.MediaTypeImageIndex: true,
		MediaTypeDockerManifestList: true,
	}
)

// IsManifestType reports whether ct names a manifest media type.
func IsManifestType(ct string) bool { return knownManifestTypes[ct] }

// IsIndexType reports whether ct names an index media type.
func IsIndexType(ct string) bool { return knownIndexTypes[ct] }

// acceptHeader is sent on every manifest/index GET and HEAD so the
// registry knows this client understands both OCI and legacy docker
// media types.
func acceptHeader() string {
	return ocispec.MediaTypeImageManifest + ", " +
		ocispec.MediaTypeImageIndex + ", " +
		MediaTypeDockerManifest + ", " +
		MediaTypeDockerManifestList
}

// EmptyConfigBytes is the canonical two-byte empty JSON config body used
// when pushArtifact is not given an explicit config.
var EmptyConfigBytes = []byte("{}")

// EmptyConfigDescriptor is the descriptor for EmptyConfigBytes, with the
// digest fixed exactly as OCI Image Layout fixtures expect it.
var EmptyConfigDescriptor = ocispec.Descriptor{
	MediaType: ocispec.MediaTypeEmptyJSON,
	Digest:    digest.Digest("sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"),
	Size:      int64(len(EmptyConfigBytes)),
}

// Layer is a Descriptor plus the locally-attached content pushArtifact
// needs to upload it: either raw bytes or a file path, never both.
type Layer struct {
	Descriptor ocispec.Descriptor
	Bytes      []byte
	FilePath   string
}

// TagList is the body of a successful tags/list response.
type TagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ManifestResult is what GetManifest returns: the raw bytes, the wire
// media type the registry reported for them, and the digest the
// registry (or, failing that, this client) computed for them.
type ManifestResult struct {
	MediaType string
	Digest    digest.Digest
	Bytes     []byte
}
