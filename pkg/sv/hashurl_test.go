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

import "testing"

func TestParseHashURLRoundTrip(t *testing.T) {
	h := HashURL{Algo: "sha256", Hex: "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc", Type: "image/png"}
	parsed, ok := ParseHashURL(h.String())
	if !ok {
		t.Fatalf("ParseHashURL(%q) failed", h.String())
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, h)
	}
}

func TestParseHashURLLowercasesHex(t *testing.T) {
	parsed, ok := ParseHashURL("hash://sha256/DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
	if !ok {
		t.Fatal("expected a valid parse")
	}
	if parsed.Hex != "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd" {
		t.Fatalf("hex not lowercased: %q", parsed.Hex)
	}
}

func TestParseHashURLRejectsWrongScheme(t *testing.T) {
	if _, ok := ParseHashURL("https://example.com/foo"); ok {
		t.Fatal("expected rejection of a non-hash scheme")
	}
}

func TestParseHashURLRejectsBadSha256Length(t *testing.T) {
	if _, ok := ParseHashURL("hash://sha256/abcd"); ok {
		t.Fatal("expected rejection of a too-short sha256 digest")
	}
}

func TestLooksLikeHashURL(t *testing.T) {
	if !LooksLikeHashURL("hash://sha256/ab") {
		t.Fatal("expected true for a hash:// prefixed string")
	}
	if LooksLikeHashURL("https://example.com") {
		t.Fatal("expected false for a non-hash:// string")
	}
}

func TestHashURLValid(t *testing.T) {
	valid := HashURL{Algo: "sha256", Hex: "ee00000000000000000000000000000000000000000000000000000000000000"[:64]}
	if !valid.Valid() {
		t.Fatal("expected a well-formed sha256 HashURL to be valid")
	}
	invalid := HashURL{Algo: "sha256", Hex: "short"}
	if invalid.Valid() {
		t.Fatal("expected a short hex digest to be invalid")
	}
}
