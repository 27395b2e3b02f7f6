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

package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// CBORCodec is the canonical codec (spec.md §4.1): mapping keys sorted
// lexicographically, shortest integer form, no indefinite-length items,
// timestamps as tag 0, byte-strings distinct from text. All object
// hashing goes through this codec; no other codec is permitted to
// influence a hash.
type CBORCodec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewCBORCodec builds the canonical CBOR codec using fxamacker/cbor's
// "canonical encoding" preset (RFC 7049 §3.9), which already
// gives sorted map keys, shortest-form integers, and no indefinite-length
// items — exactly the invariants spec.md demands.
func NewCBORCodec() *CBORCodec {
	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeTag
	encOpts.TimeTag = cbor.EncTagRequired
	encMode, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building canonical CBOR encoder: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		TimeTag:     cbor.DecTagRequired,
	}
	decMode, err := decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building canonical CBOR decoder: %v", err))
	}
	return &CBORCodec{encMode: encMode, decMode: decMode}
}

func (c *CBORCodec) Name() string            { return "cbor" }
func (c *CBORCodec) Handles() []string       { return []string{"application/cbor"} }
func (c *CBORCodec) Extensions() []string    { return []string{"cbor"} }
func (c *CBORCodec) Canonical() bool         { return true }

func (c *CBORCodec) Encode(v sv.Value) ([]byte, error) {
	native := toNative(v)
	b, err := c.encMode.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("codec: canonical cbor encode: %w", err)
	}
	return b, nil
}

func (c *CBORCodec) Decode(b []byte) (sv.Value, error) {
	var native interface{}
	if err := c.decMode.Unmarshal(b, &native); err != nil {
		return sv.Value{}, pkgerr.CodecErrorf(err, "codec: canonical cbor decode")
	}
	return cborFromNative(native), nil
}

// cborFromNative extends fromNative with the extra concrete types the
// fxamacker/cbor decoder produces that the JSON/MessagePack decoders
// don't: cbor.Tag for anything it couldn't map to time.Time automatically,
// and map[interface{}]interface{} keyed by non-string CBOR map keys
// (non-string keys are dropped here, since StructuredValue mappings are
// string-keyed only).
func cborFromNative(x interface{}) sv.Value {
	switch t := x.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]sv.Value, len(t))
		for k, item := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = cborFromNative(item)
		}
		return sv.Map(out)
	case []interface{}:
		out := make([]sv.Value, len(t))
		for i, item := range t {
			out[i] = cborFromNative(item)
		}
		return sv.Seq(out)
	default:
		return fromNative(x)
	}
}
