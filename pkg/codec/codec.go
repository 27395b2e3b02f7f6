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

// Package codec is the multi-format serialisation layer (spec.md C1): it
// normalises StructuredValues across JSON, CBOR, MessagePack, YAML, XML,
// JSON-Lines, and a V8-flavoured object encoding, so that object hashing
// (always over the canonical CBOR encoding) is stable no matter which
// format a client wrote or asked to read.
//
// The registry design mirrors camlistore.org/pkg/magic's media-type
// sniffing combined with the handler-table lookup used by Perkeep's
// pkg/images and pkg/schema blob-type dispatch, generalized here to a
// first-class registry object instead of package-level globals, so tests
// can build a registry with only the codecs they need.
package codec

import (
	"mime"
	"strings"

	"pigeon-optics.org/pkg/sv"
)

// Codec converts between raw bytes and StructuredValues in one wire
// format.
type Codec interface {
	// Name is the codec's short identifier, e.g. "cbor", "json".
	Name() string
	// Handles lists the media types this codec decodes/encodes, e.g.
	// "application/cbor".
	Handles() []string
	// Extensions lists file extensions this codec is associated with,
	// without the leading dot, e.g. "cbor".
	Extensions() []string
	// Canonical reports whether this codec is the one hashing and
	// storage round-trip correctness is defined against. Exactly one
	// registered codec should report true.
	Canonical() bool

	Encode(v sv.Value) ([]byte, error)
	Decode(b []byte) (sv.Value, error)
}

// Registry holds the set of known codecs and the derived lookup tables
// described in spec.md §4.1.
type Registry struct {
	codecs           []Codec
	mediaTypeHandlers map[string]Codec
	extensionHandlers map[string]Codec
	canonical         Codec
}

// NewRegistry builds a Registry from the given codecs. It panics if more
// than one codec claims to be canonical, or none do.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{
		mediaTypeHandlers: make(map[string]Codec),
		extensionHandlers: make(map[string]Codec),
	}
	for _, c := range codecs {
		r.codecs = append(r.codecs, c)
		for _, mt := range c.Handles() {
			r.mediaTypeHandlers[mt] = c
		}
		for _, ext := range c.Extensions() {
			r.extensionHandlers[strings.ToLower(ext)] = c
		}
		if c.Canonical() {
			if r.canonical != nil {
				panic("codec: more than one canonical codec registered")
			}
			r.canonical = c
		}
	}
	if r.canonical == nil {
		panic("codec: no canonical codec registered")
	}
	return r
}

// Canonical returns the registry's canonical codec (CBOR, by default
// construction), the only codec permitted to influence an object hash.
func (r *Registry) Canonical() Codec { return r.canonical }

// For resolves query, which may be a media type (with or without
// ";parameters"), a bare file extension, or a full filename, to a
// registered Codec. It returns nil if nothing matches.
func (r *Registry) For(query string) Codec {
	if query == "" {
		return nil
	}
	if mt, _, err := mime.ParseMediaType(query); err == nil {
		if c, ok := r.mediaTypeHandlers[mt]; ok {
			return c
		}
	}
	if c, ok := r.mediaTypeHandlers[query]; ok {
		return c
	}
	ext := query
	if i := strings.LastIndexByte(query, '.'); i >= 0 {
		ext = query[i+1:]
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if c, ok := r.extensionHandlers[ext]; ok {
		return c
	}
	return nil
}

// All returns every registered codec, in registration order.
func (r *Registry) All() []Codec { return r.codecs }
