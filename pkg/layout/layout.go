// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout implements the OCI Image Layout directory format on
// local disk: a content-addressable blob store plus an index.json of
// top-level references, following the same write-to-temp-plus-rename
// discipline the teacher's FilesystemStorage uses for blobs and
// manifests, generalized to the OCI Image Layout's fixed file names.
package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jorsol/oras-go/pkg/digestutil"
	"github.com/jorsol/oras-go/pkg/fileutil"
	"github.com/jorsol/oras-go/pkg/ocierrors"
)

// layoutVersion is the only imageLayoutVersion this module understands.
const layoutVersion = "1.0.0"

// RefNameAnnotation is the annotation key a top-level descriptor in
// index.json carries its originating tag under.
const RefNameAnnotation = ocispec.AnnotationRefName

type ociLayoutFile struct {
	ImageLayoutVersion string `json:"imageLayoutVersion"`
}

// Layout is an on-disk OCI Image Layout root. The zero value is not
// usable; construct with Open.
type Layout struct {
	root string
}

// Root returns the layout's root directory.
func (l *Layout) Root() string { return l.root }

// Open resolves root as an OCI Image Layout, initializing it (writing
// oci-layout and an empty index.json) if it doesn't already exist. The
// leaf directory may be created, but root's parent must already exist;
// copying into a layout whose parent is missing is a hard error, not a
// silent mkdir -p.
func Open(root string) (*Layout, error) {
	parent := filepath.Dir(root)
	if _, err := os.Stat(parent); err != nil {
		if os.IsNotExist(err) {
			return nil, ocierrors.New(ocierrors.IncompatibleLayout, "directory not found: %s", parent)
		}
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0755); err != nil {
		return nil, err
	}

	l := &Layout{root: root}
	layoutPath := filepath.Join(root, "oci-layout")
	if _, err := os.Stat(layoutPath); os.IsNotExist(err) {
		if err := l.writeLayoutFile(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		if err := l.verifyLayoutFile(); err != nil {
			return nil, err
		}
	}

	indexPath := filepath.Join(root, "index.json")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		if err := l.writeIndexLocked(ocispec.Index{Versioned: specs.Versioned{SchemaVersion: 2}, MediaType: ocispec.MediaTypeImageIndex}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Layout) writeLayoutFile() error {
	b, err := json.Marshal(ociLayoutFile{ImageLayoutVersion: layoutVersion})
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(filepath.Join(l.root, "oci-layout"), bytesReader(b), 0644)
}

func (l *Layout) verifyLayoutFile() error {
	b, err := os.ReadFile(filepath.Join(l.root, "oci-layout"))
	if err != nil {
		return err
	}
	var f ociLayoutFile
	if err := json.Unmarshal(b, &f); err != nil {
		return ocierrors.Wrap(ocierrors.IncompatibleLayout, err, "parsing oci-layout")
	}
	if f.ImageLayoutVersion != layoutVersion {
		return ocierrors.New(ocierrors.IncompatibleLayout, "imageLayoutVersion %q, want %q", f.ImageLayoutVersion, layoutVersion)
	}
	return nil
}

// blobPath returns the path blobs/<algo>/<hex> a digest resolves to,
// without normalizing the hex portion's case: the digest is used exactly
// as given.
func (l *Layout) blobPath(d digest.Digest) string {
	return filepath.Join(l.root, "blobs", d.Algorithm().String(), digestutil.StripPrefix(d))
}

// BlobExists reports whether a blob for d is already materialized.
func (l *Layout) BlobExists(d digest.Digest) bool {
	_, err := os.Stat(l.blobPath(d))
	return err == nil
}

// PutBlob streams r to EOF into the content store, verifying the running
// digest as it writes; size is not checked against the number of bytes
// read. The stream is always fully consumed,
// even when the blob already exists, so a caller feeding a network body
// never leaves it half-read. A digest mismatch removes the temp file and
// fails with DigestMismatch; the final file is left untouched.
func (l *Layout) PutBlob(ctx context.Context, d digest.Digest, r io.Reader, size int64) error {
	final := l.blobPath(d)
	if _, err := os.Stat(final); err == nil {
		_, copyErr := io.Copy(io.Discard, r)
		return copyErr
	}

	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return err
	}

	algo := digestutil.Algorithm(d.Algorithm().String())
	verifying := digestutil.NewVerifyingReader(r, algo)

	tmp := final + fmt.Sprintf(".%s.tmp", uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	writeErr := copyWithCancel(ctx, f, verifying)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmp)
		if closeErr != nil {
			return closeErr
		}
		return writeErr
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}

	if got := verifying.Digest(); got != d {
		os.Remove(tmp)
		return ocierrors.New(ocierrors.DigestMismatch, "blob %s: wrote content with digest %s", d, got)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// GetBlob opens the blob for d for reading, failing with NotFound if it
// is not present.
func (l *Layout) GetBlob(d digest.Digest) (io.ReadCloser, error) {
	f, err := os.Open(l.blobPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ocierrors.New(ocierrors.NotFound, "blob %s not found in layout %s", d, l.root)
		}
		return nil, err
	}
	return f, nil
}

// copyWithCancel is io.Copy that checks ctx before every read, aborting
// (and letting the caller clean up the temp file) rather than finishing a
// write the caller no longer wants.
func copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return ocierrors.Wrap(ocierrors.Cancelled, err, "blob write cancelled")
		}
		n, err := src.Read(buf)
		if _, werr := dst.Write(buf[:n]); werr != nil {
			return werr
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}

// withIndexLock acquires the index.json.lock critical section for the
// read-modify-write window fn performs, serializing concurrent
// AddManifestToIndex calls across processes on the same layout root.
func (l *Layout) withIndexLock(fn func() error) error {
	lock := flock.New(filepath.Join(l.root, "index.json.lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}

func (l *Layout) readIndex() (ocispec.Index, error) {
	b, err := os.ReadFile(filepath.Join(l.root, "index.json"))
	if err != nil {
		return ocispec.Index{}, err
	}
	var idx ocispec.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return ocispec.Index{}, ocierrors.Wrap(ocierrors.IncompatibleLayout, err, "parsing index.json")
	}
	return idx, nil
}

func (l *Layout) writeIndexLocked(idx ocispec.Index) error {
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(filepath.Join(l.root, "index.json"), bytesReader(b), 0644)
}

// Index returns the current contents of index.json.
func (l *Layout) Index() (ocispec.Index, error) {
	return l.readIndex()
}

// AddManifestToIndex registers desc as a top-level reference. When
// refName is non-empty, any existing entry whose ref.name annotation
// equals refName is replaced (a tag re-point); the new descriptor
// carries refName as its own ref.name annotation. An empty refName
// appends desc without a ref.name annotation, deduplicated by digest.
func (l *Layout) AddManifestToIndex(desc ocispec.Descriptor, refName string) error {
	return l.withIndexLock(func() error {
		idx, err := l.readIndex()
		if err != nil {
			return err
		}
		if idx.SchemaVersion == 0 {
			idx.SchemaVersion = 2
		}
		if idx.MediaType == "" {
			idx.MediaType = ocispec.MediaTypeImageIndex
		}

		entry := desc
		if refName != "" {
			entry.Annotations = mergeAnnotation(entry.Annotations, RefNameAnnotation, refName)
		}

		kept := make([]ocispec.Descriptor, 0, len(idx.Manifests)+1)
		for _, m := range idx.Manifests {
			if refName != "" && m.Annotations[RefNameAnnotation] == refName {
				continue
			}
			if refName == "" && m.Digest == entry.Digest {
				continue
			}
			kept = append(kept, m)
		}
		kept = append(kept, entry)
		idx.Manifests = kept

		return l.writeIndexLocked(idx)
	})
}

func mergeAnnotation(existing map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}
	out[key] = value
	return out
}

// FindManifest returns the index entry for refName, or NotFound if no
// entry carries that ref.name annotation.
func (l *Layout) FindManifest(refName string) (ocispec.Descriptor, error) {
	idx, err := l.readIndex()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	for _, m := range idx.Manifests {
		if m.Annotations[RefNameAnnotation] == refName {
			return m, nil
		}
	}
	return ocispec.Descriptor{}, ocierrors.New(ocierrors.NotFound, "no manifest tagged %q in layout index", refName)
}
