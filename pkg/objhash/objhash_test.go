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

package objhash

import (
	"testing"

	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/sv"
)

func TestOfIsStableAcrossMapOrdering(t *testing.T) {
	cbor := codec.NewCBORCodec()
	a := sv.Map(map[string]sv.Value{"a": sv.Int(1), "b": sv.Int(2)})
	b := sv.Map(map[string]sv.Value{"b": sv.Int(2), "a": sv.Int(1)})

	ha, _, err := Of(cbor, a)
	if err != nil {
		t.Fatalf("Of(a): %v", err)
	}
	hb, _, err := Of(cbor, b)
	if err != nil {
		t.Fatalf("Of(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("hashes differ for structurally equal values: %v vs %v", ha, hb)
	}
}

func TestOfChangesWithContent(t *testing.T) {
	cbor := codec.NewCBORCodec()
	ha, _, err := Of(cbor, sv.Int(1))
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	hb, _, err := Of(cbor, sv.Int(2))
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if ha == hb {
		t.Fatal("expected different hashes for different content")
	}
}

func TestOfMatchesDirectHash(t *testing.T) {
	cbor := codec.NewCBORCodec()
	v := sv.String("hello")
	h, b, err := Of(cbor, v)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if want := hashref.Sum(b); h != want {
		t.Fatalf("Of's hash does not match hashref.Sum of the returned bytes")
	}
}

func TestOfRejectsNonCanonicalCodec(t *testing.T) {
	if _, _, err := Of(codec.NewJSONCodec(), sv.Int(1)); err == nil {
		t.Fatal("expected an error when given a non-canonical codec")
	}
}
