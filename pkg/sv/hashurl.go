/*
Copyright 2026 The Pigeon Optics Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sv

import (
	"fmt"
	"net/url"
	"strings"
)

// HashURL is a reference to an opaque attachment blob by content hash:
// hash://sha256/<64 lowercase hex>[?type=<mime>].
type HashURL struct {
	Algo string // always "sha256" today, kept as a field for forward compatibility
	Hex  string // lowercase hex digest
	Type string // optional ?type= mime hint
}

const hashURLPrefix = "hash://sha256/"

func (h HashURL) String() string {
	if h.Type == "" {
		return fmt.Sprintf("hash://%s/%s", h.Algo, h.Hex)
	}
	return fmt.Sprintf("hash://%s/%s?type=%s", h.Algo, h.Hex, url.QueryEscape(h.Type))
}

func (h HashURL) Valid() bool {
	return h.Algo == "sha256" && len(h.Hex) == 64 && isHex(h.Hex)
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// LooksLikeHashURL reports whether s has the hash:// prefix, cheaply,
// before paying for a full Parse. Used by the recursive string scan in
// ListHashURLs callers that operate directly on decoded-but-not-yet-typed
// string values (e.g. a codec's intermediate representation).
func LooksLikeHashURL(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "hash://")
}

// ParseHashURL parses s as a hash:// URI. The hex portion is
// case-normalized to lowercase per spec.
func ParseHashURL(s string) (HashURL, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "hash" {
		return HashURL{}, false
	}
	algo := u.Host
	hex := strings.TrimPrefix(u.Path, "/")
	if algo == "" || hex == "" {
		return HashURL{}, false
	}
	hex = strings.ToLower(hex)
	h := HashURL{Algo: algo, Hex: hex, Type: u.Query().Get("type")}
	if algo == "sha256" && !h.Valid() {
		return HashURL{}, false
	}
	return h, true
}
