// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the client side of the OCI Distribution
// Specification v1.1: blob existence checks, monolithic and chunked blob
// upload/download, manifest and index transfer, tag listing, referrers
// lookup, cross-repo mount, and the high-level pushArtifact convenience
// built on top of them.
//
// Every exported method takes a context.Context and is safe to call
// concurrently from multiple goroutines against the same *Registry; the
// only shared mutable state lives in the auth negotiator's token cache,
// which guards itself with a mutex.
package registry
