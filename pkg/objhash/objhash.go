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

// Package objhash implements spec.md C2's objectHash: canonical-CBOR
// encode a StructuredValue, then SHA-256 the result. It is split out from
// pkg/hashref (which only knows about raw digests) and pkg/codec (which
// only knows about encoding) because computing an object hash requires
// both, and multiple packages (pkg/objectstore, pkg/dataset) need it
// without otherwise depending on each other.
package objhash

import (
	"fmt"

	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/sv"
)

// Of returns the canonical CBOR encoding of v and its SHA-256 hash. Hash
// stability (spec.md §8 property 1) follows directly from cbor's
// canonical encoding being a pure function of v: re-encoding any value
// decoded from that same canonical encoding always reproduces the
// identical bytes.
func Of(cborCodec codec.Codec, v sv.Value) (hashref.Hash, []byte, error) {
	if !cborCodec.Canonical() {
		return hashref.Hash{}, nil, fmt.Errorf("objhash: codec %q is not canonical", cborCodec.Name())
	}
	b, err := cborCodec.Encode(v)
	if err != nil {
		return hashref.Hash{}, nil, fmt.Errorf("objhash: encoding value: %w", err)
	}
	return hashref.Sum(b), b, nil
}
