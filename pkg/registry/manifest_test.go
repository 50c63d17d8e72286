// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func manifestServer(t *testing.T, contentType string, headDigest string, headStatus int, body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			if headDigest != "" {
				w.Header().Set("Docker-Content-Digest", headDigest)
			}
			w.WriteHeader(headStatus)
		case http.MethodGet:
			w.Header().Set("Content-Type", contentType)
			if headDigest != "" {
				w.Header().Set("Docker-Content-Digest", headDigest)
			}
			w.WriteHeader(http.StatusOK)
			w.Write(body)
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			d := digest.FromBytes(b)
			w.Header().Set("Docker-Content-Digest", d.String())
			w.WriteHeader(http.StatusCreated)
		}
	}))
}

func TestHeadManifestSuccess(t *testing.T) {
	body := []byte(`{"schemaVersion":2}`)
	d := digest.FromBytes(body)
	server := manifestServer(t, ocispec.MediaTypeImageManifest, d.String(), http.StatusOK, body)
	defer server.Close()

	r := testRegistry(server)
	headers, err := r.HeadManifest(context.Background(), "library/x", "latest")
	if err != nil {
		t.Fatalf("HeadManifest: %v", err)
	}
	if headers.ContentType != ocispec.MediaTypeImageManifest {
		t.Errorf("ContentType = %q", headers.ContentType)
	}
	if headers.Digest != d {
		t.Errorf("Digest = %s, want %s", headers.Digest, d)
	}
}

func TestHeadManifestMissingContentType(t *testing.T) {
	server := manifestServer(t, "", "", http.StatusNoContent, nil)
	defer server.Close()
	r := testRegistry(server)

	_, err := r.HeadManifest(context.Background(), "library/x", "latest")
	if err == nil {
		t.Fatal("want InvalidManifestHeaders, got nil")
	}
	if err.Error() == "" || !contains(err.Error(), "Content type not found in headers") {
		t.Fatalf("error = %v, want message about missing content type", err)
	}
}

func TestHeadManifestMissingDigest(t *testing.T) {
	server := manifestServer(t, ocispec.MediaTypeImageManifest, "", http.StatusNoContent, nil)
	defer server.Close()
	r := testRegistry(server)

	_, err := r.HeadManifest(context.Background(), "library/x", "latest")
	if err == nil || !contains(err.Error(), "Manifest digest not found in headers") {
		t.Fatalf("error = %v, want message about missing digest", err)
	}
}

func TestHeadManifestUnsupportedContentType(t *testing.T) {
	d := digest.FromBytes([]byte("{}"))
	server := manifestServer(t, "application/json", d.String(), http.StatusOK, nil)
	defer server.Close()
	r := testRegistry(server)

	_, err := r.HeadManifest(context.Background(), "library/x", "latest")
	if err == nil || !contains(err.Error(), "Unsupported content type: application/json") {
		t.Fatalf("error = %v, want unsupported content type message", err)
	}
}

func TestGetManifestComputesDigestWhenHeaderAbsent(t *testing.T) {
	body := []byte(`{"schemaVersion":2,"mediaType":"` + ocispec.MediaTypeImageManifest + `"}`)
	server := manifestServer(t, ocispec.MediaTypeImageManifest, "", http.StatusOK, body)
	defer server.Close()
	r := testRegistry(server)

	result, err := r.GetManifest(context.Background(), "library/x", "latest")
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	want := digest.FromBytes(body)
	if result.Digest != want {
		t.Fatalf("Digest = %s, want %s", result.Digest, want)
	}
}

func TestPutManifestReturnsAuthoritativeDigest(t *testing.T) {
	server := manifestServer(t, ocispec.MediaTypeImageManifest, "", http.StatusOK, nil)
	defer server.Close()
	r := testRegistry(server)

	body := []byte(`{"schemaVersion":2}`)
	d, err := r.PutManifest(context.Background(), "library/x", "latest", ocispec.MediaTypeImageManifest, body)
	if err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	if want := digest.FromBytes(body); d != want {
		t.Fatalf("PutManifest digest = %s, want %s", d, want)
	}
}

func TestListTagsPagination(t *testing.T) {
	var hit int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit++
		if hit == 1 {
			w.Header().Set("Link", `</v2/library/x/tags/list?last=0.1.0>; rel="next"`)
			json.NewEncoder(w).Encode(TagList{Name: "library/x", Tags: []string{"latest", "0.1.1"}})
			return
		}
		json.NewEncoder(w).Encode(TagList{Name: "library/x", Tags: []string{"0.1.0"}})
	}))
	defer server.Close()
	r := testRegistry(server)

	page1, err := r.ListTags(context.Background(), "library/x", "", 0)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(page1.Tags) != 2 || page1.Next == "" {
		t.Fatalf("page1 = %+v", page1)
	}

	page2, err := r.ListTags(context.Background(), "library/x", server.URL+page1.Next, 0)
	if err != nil {
		t.Fatalf("ListTags(page2): %v", err)
	}
	if len(page2.Tags) != 1 || page2.Next != "" {
		t.Fatalf("page2 = %+v", page2)
	}
}

func TestGetReferrersFallsBackToTagSchema(t *testing.T) {
	d := digest.FromBytes([]byte("subject"))
	fallbackIdx := ocispec.Index{Versioned: specs.Versioned{SchemaVersion: 2}, MediaType: ocispec.MediaTypeImageIndex}
	fallbackBody, _ := json.Marshal(fallbackIdx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contains(r.URL.Path, "/referrers/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageIndex)
		w.Header().Set("Docker-Content-Digest", digest.FromBytes(fallbackBody).String())
		w.Write(fallbackBody)
	}))
	defer server.Close()
	r := testRegistry(server)

	idx, err := r.GetReferrers(context.Background(), "library/x", d)
	if err != nil {
		t.Fatalf("GetReferrers: %v", err)
	}
	if idx.SchemaVersion != 2 {
		t.Fatalf("idx.SchemaVersion = %d, want 2", idx.SchemaVersion)
	}
}

func TestDeleteManifestMethodNotAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()
	r := testRegistry(server)

	err := r.DeleteManifest(context.Background(), "library/x", digest.FromBytes([]byte("x")))
	if err == nil {
		t.Fatal("want DeleteNotSupported, got nil")
	}
}
