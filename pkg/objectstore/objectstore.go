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

// Package objectstore implements spec.md C4, a layer over pkg/blobstore
// that speaks StructuredValues instead of raw bytes: writes encode with
// the canonical codec before hashing, reads decode after fetching. It
// plays the role Perkeep's pkg/schema plays atop pkg/blobserver — schema
// blobs are themselves blobs, but callers that already know they want a
// schema.Blob use schema.BlobFromReader rather than reading raw bytes and
// parsing by hand.
package objectstore

import (
	"fmt"

	"go.uber.org/zap"

	"pigeon-optics.org/pkg/blobstore"
	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/objhash"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// Store writes and reads StructuredValues through a blobstore.Store,
// always via the registry's canonical codec.
type Store struct {
	blobs    *blobstore.Store
	canon    codec.Codec
	paranoid bool
	log      *zap.Logger
}

// New wraps blobs with the registry's canonical codec. When paranoid is
// true, every Write re-decodes its own output and compares it against v
// with sv.Equal before returning, trading throughput for a guarantee that
// a canonical-encoding bug is caught immediately rather than surfacing
// later as a hash mismatch.
func New(blobs *blobstore.Store, reg *codec.Registry, paranoid bool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{blobs: blobs, canon: reg.Canonical(), paranoid: paranoid, log: log}
}

// Write encodes v with the canonical codec, stores the result, and
// returns the object's Hash (spec.md C2 objectHash).
func (s *Store) Write(v sv.Value) (hashref.Hash, error) {
	h, encoded, err := objhash.Of(s.canon, v)
	if err != nil {
		return hashref.Hash{}, pkgerr.CodecErrorf(err, "objectstore: encoding value")
	}
	if s.paranoid {
		decoded, err := s.canon.Decode(encoded)
		if err != nil {
			return hashref.Hash{}, pkgerr.CodecErrorf(err, "objectstore: paranoid self-check decode")
		}
		if !decoded.Equal(v) {
			return hashref.Hash{}, pkgerr.ValidationFailedf("objectstore: paranoid self-check mismatch for hash %s", h)
		}
	}
	stored, err := s.blobs.Write(encoded)
	if err != nil {
		return hashref.Hash{}, err
	}
	if stored != h {
		// Should be unreachable: blobstore hashes the same bytes
		// objhash just hashed. Surfaced loudly rather than silently
		// trusting either hash if it ever happens.
		return hashref.Hash{}, fmt.Errorf("objectstore: hash mismatch, objhash %s vs blobstore %s", h, stored)
	}
	return h, nil
}

// Read fetches the object stored under h and decodes it with the
// canonical codec.
func (s *Store) Read(h hashref.Hash) (sv.Value, error) {
	b, err := s.blobs.Read(h)
	if err != nil {
		return sv.Value{}, err
	}
	v, err := s.canon.Decode(b)
	if err != nil {
		return sv.Value{}, pkgerr.CodecErrorf(err, "objectstore: decoding object %s", h)
	}
	return v, nil
}

// Exists reports whether an object is stored under h.
func (s *Store) Exists(h hashref.Hash) bool { return s.blobs.Exists(h) }

// Blobs returns the underlying blob store, for callers (pkg/dataset's
// retain sweep) that need to operate on hashes without decoding.
func (s *Store) Blobs() *blobstore.Store { return s.blobs }
