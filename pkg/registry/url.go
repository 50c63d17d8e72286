// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import "fmt"

func basePath(host, scheme string) string {
	return fmt.Sprintf("%s://%s/v2/", scheme, host)
}

func manifestPath(host, scheme, repo, reference string) string {
	return fmt.Sprintf("%s%s/manifests/%s", basePath(host, scheme), repo, reference)
}

func blobPath(host, scheme, repo, dgst string) string {
	return fmt.Sprintf("%s%s/blobs/%s", basePath(host, scheme), repo, dgst)
}

func blobUploadInitPath(host, scheme, repo string) string {
	return fmt.Sprintf("%s%s/blobs/uploads/", basePath(host, scheme), repo)
}

func blobMountPath(host, scheme, repo, dgst, fromRepo string) string {
	return fmt.Sprintf("%s%s/blobs/uploads/?mount=%s&from=%s", basePath(host, scheme), repo, dgst, fromRepo)
}

func tagsListPath(host, scheme, repo string) string {
	return fmt.Sprintf("%s%s/tags/list", basePath(host, scheme), repo)
}

func referrersPath(host, scheme, repo, dgst string) string {
	return fmt.Sprintf("%s%s/referrers/%s", basePath(host, scheme), repo, dgst)
}
