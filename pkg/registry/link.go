// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"net/url"
	"strconv"
	"strings"
)

// appendQueryInt appends key=value to rawURL's query string.
func appendQueryInt(rawURL, key string, value int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, strconv.Itoa(value))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseNextLink extracts the URL from a Link header's rel="next" entry,
// e.g. `<https://host/v2/repo/tags/list?last=x>; rel="next"`. Returns ""
// if there is no such entry.
func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		urlPart, params, ok := strings.Cut(part, ";")
		if !ok {
			continue
		}
		if !strings.Contains(params, `rel="next"`) {
			continue
		}
		urlPart = strings.TrimSpace(urlPart)
		urlPart = strings.TrimPrefix(urlPart, "<")
		urlPart = strings.TrimSuffix(urlPart, ">")
		return urlPart
	}
	return ""
}
