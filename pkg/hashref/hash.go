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

// Package hashref defines Hash, the 32-byte SHA-256 digest used as the key
// for every content-addressed store in the system (blobs, structured
// objects). It mirrors the role of camlistore.org/pkg/blob.Ref, but is
// narrowed to the single sha256 hash family this system uses, instead of
// blob.Ref's pluggable digest-family design — the spec fixes the hash
// function, so there is no "other digest" case to support.
package hashref

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/minio/sha256-simd"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a 32-byte SHA-256 digest. It is a value type: use == to compare,
// and it may be used as a map key.
type Hash [Size]byte

// Zero is the zero Hash, used by pkg/readpath to mark system virtual paths
// that have no real content hash (see spec.md Open Question 3).
var Zero Hash

func (h Hash) IsZero() bool { return h == Zero }

// String renders h as lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns the raw digest bytes.
func (h Hash) Bytes() []byte { return h[:] }

// FromHex parses a 64-character lowercase-or-mixed-case hex string into a
// Hash. Case-insensitive on input; String always renders lowercase.
func FromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != Size*2 {
		return h, fmt.Errorf("hashref: wrong length %d for hex digest, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashref: invalid hex digest %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// MustFromHex is FromHex but panics on error; for tests and constants.
func MustFromHex(s string) Hash {
	h, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Sum computes the SHA-256 digest of b.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// NewHasher returns a streaming SHA-256 hash.Hash compatible with Hash.
func NewHasher() interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	Reset()
} {
	return sha256.New()
}

// FromSum finalizes a hasher obtained from NewHasher into a Hash.
func FromSum(sum []byte) (Hash, error) {
	var h Hash
	if len(sum) != Size {
		return h, errors.New("hashref: wrong sum length")
	}
	copy(h[:], sum)
	return h, nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Less provides the natural lexicographic order over hex representation,
// used where a deterministic hash ordering is needed (e.g. retain-set
// diagnostics).
func Less(a, b Hash) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
