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

package objectstore

import (
	"testing"

	"pigeon-optics.org/pkg/blobstore"
	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/objhash"
	"pigeon-optics.org/pkg/sv"
)

func newStore(t *testing.T, paranoid bool) *Store {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir(), "cbor", nil)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return New(blobs, codec.DefaultRegistry(), paranoid, nil)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newStore(t, false)
	v := sv.Map(map[string]sv.Value{
		"title": sv.String("a song"),
		"plays": sv.Int(42),
	})

	h, err := s.Write(v)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(v) {
		t.Fatalf("Read returned %v, want %v", got, v)
	}
}

func TestWriteHashMatchesObjhash(t *testing.T) {
	s := newStore(t, false)
	v := sv.String("hello")

	h, err := s.Write(v)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want, _, err := objhash.Of(codec.NewCBORCodec(), v)
	if err != nil {
		t.Fatalf("objhash.Of: %v", err)
	}
	if h != want {
		t.Fatalf("Write returned hash %v, want %v matching objhash.Of", h, want)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	s := newStore(t, false)
	v := sv.Int(7)

	h1, err := s.Write(v)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	h2, err := s.Write(v)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("writing identical content twice produced different hashes: %v vs %v", h1, h2)
	}
}

func TestExistsReflectsWrites(t *testing.T) {
	s := newStore(t, false)
	v := sv.Bool(true)

	h, err := s.Write(v)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists(h) {
		t.Fatal("expected Exists to report true after Write")
	}

	absent := sv.String("never written")
	wantAbsent, _, err := objhash.Of(codec.NewCBORCodec(), absent)
	if err != nil {
		t.Fatalf("objhash.Of: %v", err)
	}
	if s.Exists(wantAbsent) {
		t.Fatal("expected Exists to report false for content never written")
	}
}

func TestReadMissingHashIsAnError(t *testing.T) {
	s := newStore(t, false)
	missing, _, err := objhash.Of(codec.NewCBORCodec(), sv.String("absent"))
	if err != nil {
		t.Fatalf("objhash.Of: %v", err)
	}
	if _, err := s.Read(missing); err == nil {
		t.Fatal("expected an error reading a hash that was never written")
	}
}

func TestParanoidModeStillSucceedsOnGoodWrites(t *testing.T) {
	s := newStore(t, true)
	v := sv.Map(map[string]sv.Value{"a": sv.Int(1), "b": sv.Seq([]sv.Value{sv.Int(1), sv.Int(2)})})

	h, err := s.Write(v)
	if err != nil {
		t.Fatalf("Write under paranoid mode: %v", err)
	}
	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(v) {
		t.Fatalf("Read returned %v, want %v", got, v)
	}
}

func TestBlobsReturnsUnderlyingStore(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir(), "cbor", nil)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	s := New(blobs, codec.DefaultRegistry(), false, nil)
	if s.Blobs() != blobs {
		t.Fatal("Blobs() did not return the underlying store it was constructed with")
	}
}
