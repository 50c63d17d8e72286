// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ref parses and normalizes registry references of the form
// "registry[:port]/repository[:tag|@digest]", mirroring the host-detection
// heuristic Docker-compatible tooling has used since the original
// distribution project: a reference is assumed to live on the default
// registry unless its leading path segment looks like a host.
package ref

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"

	"github.com/jorsol/oras-go/pkg/digestutil"
	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// DefaultRegistry is used when a reference string has no host segment.
const DefaultRegistry = "registry-1.docker.io"

// DefaultTag is used when a reference has neither a tag nor a digest.
const DefaultTag = "latest"

var (
	repoSegmentRe = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
	// reference.TagRegexp is unanchored; MatchString would accept a tag
	// containing illegal characters as long as a legal substring exists
	// somewhere in it, so it is anchored here before use.
	tagRe = regexp.MustCompile("^" + reference.TagRegexp.String() + "$")
)

// Reference identifies a repository on a registry and, optionally, a tag
// or a digest. At most one of Tag/Digest is meaningful when resolving;
// Digest wins if both are set.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// Parse accepts "[host[:port]/]repo[:tag][@digest]" and returns the
// normalized Reference, or InvalidReference if s does not match the
// grammar.
func Parse(s string) (Reference, error) {
	if s == "" {
		return Reference{}, ocierrors.New(ocierrors.InvalidReference, "empty reference")
	}

	rest := s
	var digestPart string
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		digestPart = rest[i+1:]
		rest = rest[:i]
	}

	var tagPart string
	// A ':' after the last '/' separates a tag; a ':' before it is a port
	// and belongs to the host segment, handled below.
	slash := strings.LastIndex(rest, "/")
	if colon := strings.LastIndex(rest, ":"); colon > slash {
		tagPart = rest[colon+1:]
		rest = rest[:colon]
	}

	host := DefaultRegistry
	repo := rest
	if first := strings.Index(rest, "/"); first >= 0 {
		firstSegment := rest[:first]
		if looksLikeHost(firstSegment) {
			host = firstSegment
			repo = rest[first+1:]
		}
	}

	if repo == "" {
		return Reference{}, ocierrors.New(ocierrors.InvalidReference, "missing repository in %q", s)
	}
	for _, seg := range strings.Split(repo, "/") {
		if !repoSegmentRe.MatchString(seg) {
			return Reference{}, ocierrors.New(ocierrors.InvalidReference, "invalid repository segment %q in %q", seg, s)
		}
	}

	if digestPart != "" {
		if _, err := digestutil.Parse(digestPart); err != nil {
			return Reference{}, ocierrors.New(ocierrors.InvalidReference, "invalid digest %q in %q", digestPart, s)
		}
	}

	if tagPart != "" && !tagRe.MatchString(tagPart) {
		return Reference{}, ocierrors.New(ocierrors.InvalidReference, "invalid tag %q in %q", tagPart, s)
	}
	if tagPart == "" && digestPart == "" {
		tagPart = DefaultTag
	}

	return Reference{Registry: host, Repository: repo, Tag: tagPart, Digest: digestPart}, nil
}

// looksLikeHost applies the spec's heuristic: a leading path segment is a
// host iff it contains '.', ':', or is exactly "localhost".
func looksLikeHost(segment string) bool {
	if segment == "localhost" {
		return true
	}
	return strings.ContainsAny(segment, ".:")
}

// ForRegistry returns a host-only Reference suitable for a /v2/ ping or
// login, with no repository, tag, or digest.
func ForRegistry(host string) Reference {
	return Reference{Registry: host}
}

// Addressed reports the string used to address a manifest: the digest
// when set (digest always wins when both are present), otherwise the tag.
func (r Reference) Addressed() string {
	if r.Digest != "" {
		return r.Digest
	}
	return r.Tag
}

// String renders r back into "[host/]repo[:tag][@digest]" form. Parsing
// String's output returns an equal Reference, except that a Reference
// built with an empty Tag and Digest round-trips through DefaultTag.
func (r Reference) String() string {
	var b strings.Builder
	if r.Registry != "" && r.Registry != DefaultRegistry {
		b.WriteString(r.Registry)
		b.WriteString("/")
	}
	b.WriteString(r.Repository)
	if r.Tag != "" {
		fmt.Fprintf(&b, ":%s", r.Tag)
	}
	if r.Digest != "" {
		fmt.Fprintf(&b, "@%s", r.Digest)
	}
	return b.String()
}
