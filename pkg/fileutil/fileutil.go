// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fileutil provides the write-to-temp-plus-rename primitive the
// OCI layout store uses for oci-layout and index.json, so a crash never
// leaves a half-written copy of either visible under its final name.
// Blobs are committed by the layout store's own digest-checked writer.
package fileutil

import (
	"io"
	"os"
)

// WriteAtomic writes the full contents of r to a temporary file beside
// dst, then renames it into place. On any failure the temporary file is
// removed and dst is left untouched. The rename is atomic on POSIX
// filesystems; on filesystems that reject renaming over an existing
// file, callers under a critical section should remove dst first.
func WriteAtomic(dst string, r io.Reader, mode os.FileMode) (err error) {
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmp)
			return
		}
		err = os.Rename(tmp, dst)
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return err
	}
	return f.Sync()
}
