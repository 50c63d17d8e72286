// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package digestutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/jorsol/oras-go/pkg/ocierrors"
)

func TestFromBytesMatchesFromReader(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	got, err := FromReader(SHA256, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	want := FromBytes(SHA256, data)
	if got != want {
		t.Fatalf("FromReader = %s, want %s", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	data := []byte("hello")
	d := FromBytes(SHA256, data)
	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse(%s): %v", d, err)
	}
	if parsed != d {
		t.Fatalf("Parse round-trip = %s, want %s", parsed, d)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{"", "nocolon", "sha256:", ":abc", "sha256 :abc"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): want error, got nil", c)
		} else if k, _ := ocierrors.KindOf(err); k != ocierrors.InvalidDigest {
			t.Errorf("Parse(%q): kind = %v, want InvalidDigest", c, k)
		}
	}
}

func TestParseRejectsUppercaseHex(t *testing.T) {
	d := FromBytes(SHA256, []byte("hello"))
	mixed := "sha256:" + upper(d.Encoded())
	if _, err := Parse(mixed); err == nil {
		t.Fatalf("Parse(%q): want InvalidDigest for uppercase hex, got nil", mixed)
	} else if k, _ := ocierrors.KindOf(err); k != ocierrors.InvalidDigest {
		t.Fatalf("Parse(%q): kind = %v, want InvalidDigest", mixed, k)
	}
}

func TestParseRejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := Parse("md5:5d41402abc4b2a76b9719d911017c592")
	if err == nil {
		t.Fatal("Parse: want error for md5, got nil")
	}
	if k, _ := ocierrors.KindOf(err); k != ocierrors.UnsupportedAlgorithm {
		t.Fatalf("kind = %v, want UnsupportedAlgorithm", k)
	}
}

func TestFromFileStreamsWithoutLoadingWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	data := bytes.Repeat([]byte("x"), 64*1024+17)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := FromFile(SHA256, path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	want := FromBytes(SHA256, data)
	if got != want {
		t.Fatalf("FromFile = %s, want %s", got, want)
	}
}

func TestVerifyingReaderMatchesFromBytes(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 10000)
	vr := NewVerifyingReader(bytes.NewReader(data), SHA512)
	if _, err := io.ReadAll(vr); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := FromBytes(SHA512, data)
	if got := vr.Digest(); got != want {
		t.Fatalf("VerifyingReader.Digest() = %s, want %s", got, want)
	}
}

func TestVerify(t *testing.T) {
	d := digest.Digest("sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a")
	if err := Verify(d, d); err != nil {
		t.Fatalf("Verify(equal): %v", err)
	}
	other := digest.Digest("sha256:0000000000000000000000000000000000000000000000000000000000000")
	if err := Verify(d, other); err == nil {
		t.Fatal("Verify(mismatched): want error, got nil")
	} else if k, _ := ocierrors.KindOf(err); k != ocierrors.DigestMismatch {
		t.Fatalf("kind = %v, want DigestMismatch", k)
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
