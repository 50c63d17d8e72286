// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package digestutil computes and verifies content digests over bytes,
// files, and streams. It is a thin, deliberately narrow wrapper around
// opencontainers/go-digest that restricts the algorithm set to the two
// this module supports and enforces case-sensitive comparison per the
// OCI digest grammar.
package digestutil

import (
	"bufio"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"hash"
	"io"
	"os"
	"regexp"

	digest "github.com/opencontainers/go-digest"

	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// chunkSize is the minimum buffered read size required when streaming a
// digest computation; it keeps large blobs from ever landing fully in
// memory.
const chunkSize = 32 * 1024

// digestPattern is the wire grammar from the distribution spec: algorithm,
// colon, encoded value. Matching happens before any algorithm lookup so a
// malformed digest is always reported as InvalidDigest, never as
// UnsupportedAlgorithm.
var digestPattern = regexp.MustCompile(`^[a-z0-9]+(?:[+._-][a-z0-9]+)*:[a-zA-Z0-9=_-]+$`)

// Algorithm identifies a supported hash algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

func (a Algorithm) digestAlgorithm() digest.Algorithm { return digest.Algorithm(a) }

// Default is the algorithm used when none is specified by the caller.
const Default = SHA256

// Parse validates s against the digest grammar and returns it unchanged as
// a Digest, preserving case. It never normalizes hex case: per this
// module's design, mixed-case hex is rejected rather than lowercased.
func Parse(s string) (digest.Digest, error) {
	if !digestPattern.MatchString(s) {
		return "", ocierrors.New(ocierrors.InvalidDigest, "malformed digest %q", s)
	}
	d := digest.Digest(s)
	algo := Algorithm(d.Algorithm().String())
	if algo != SHA256 && algo != SHA512 {
		return "", ocierrors.New(ocierrors.UnsupportedAlgorithm, "unsupported digest algorithm %q", d.Algorithm().String())
	}
	// go-digest's Validate lowercases nothing itself, but double-check the
	// hex portion carries no uppercase runes so callers relying on exact
	// case-sensitive comparison never see a silently normalized digest.
	hex := StripPrefix(d)
	for _, r := range hex {
		if r >= 'A' && r <= 'Z' {
			return "", ocierrors.New(ocierrors.InvalidDigest, "digest %q has non-lowercase hex", s)
		}
	}
	return d, nil
}

// StripPrefix returns the hex portion of d, discarding "algorithm:".
func StripPrefix(d digest.Digest) string {
	return d.Encoded()
}

// FromBytes computes the digest of b under algo.
func FromBytes(algo Algorithm, b []byte) digest.Digest {
	return algo.digestAlgorithm().FromBytes(b)
}

// FromReader streams r through algo's hash in chunkSize-sized reads,
// never buffering the whole input, and returns the resulting digest.
func FromReader(algo Algorithm, r io.Reader) (digest.Digest, error) {
	d := algo.digestAlgorithm().Digester()
	buf := bufio.NewReaderSize(r, chunkSize)
	if _, err := io.Copy(d.Hash(), buf); err != nil {
		return "", err
	}
	return d.Digest(), nil
}

// FromFile computes the digest of the file at path under algo, streaming
// its contents rather than reading it fully into memory.
func FromFile(algo Algorithm, path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return FromReader(algo, f)
}

// Verify compares expected and actual as opaque "algo:hex" strings. The
// comparison is case-sensitive and exact; no normalization is applied on
// either side.
func Verify(expected, actual digest.Digest) error {
	if expected != actual {
		return ocierrors.New(ocierrors.DigestMismatch, "expected %s, got %s", expected, actual)
	}
	return nil
}

// VerifyingReader wraps r, feeding every byte read through a running hash
// for algo, so a digest check can be performed once the stream is
// exhausted without a second pass over the data.
type VerifyingReader struct {
	r    io.Reader
	hash hash.Hash
	algo Algorithm
}

// NewVerifyingReader returns a VerifyingReader over r for algo.
func NewVerifyingReader(r io.Reader, algo Algorithm) *VerifyingReader {
	return &VerifyingReader{r: r, hash: algo.digestAlgorithm().Hash(), algo: algo}
}

func (v *VerifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.hash.Write(p[:n])
	}
	return n, err
}

// Digest returns the running digest computed so far. Call only after the
// underlying reader has been fully consumed.
func (v *VerifyingReader) Digest() digest.Digest {
	return digest.NewDigestFromBytes(v.algo.digestAlgorithm(), v.hash.Sum(nil))
}
