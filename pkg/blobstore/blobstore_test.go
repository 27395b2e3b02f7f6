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

package blobstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pigeon-optics.org/pkg/hashref"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := []byte("some attachment bytes")

	h, err := s.Write(b)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h != hashref.Sum(b) {
		t.Fatalf("Write returned %v, want %v", h, hashref.Sum(b))
	}
	if !s.Exists(h) {
		t.Fatal("expected Exists to report true after Write")
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, b) {
		t.Fatalf("Read = %q, want %q", got, b)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := []byte("identical twice")

	h1, err := s.Write(b)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	h2, err := s.Write(b)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("writing identical bytes twice gave different hashes: %v vs %v", h1, h2)
	}
}

func TestShardedPathLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := []byte("shard me")
	h, err := s.Write(b)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	hex := h.String()
	want := filepath.Join(root, hex[:2], hex[2:]+".data")
	if s.Path(h) != want {
		t.Fatalf("Path = %q, want %q", s.Path(h), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected blob file at %q: %v", want, err)
	}
}

func TestWriteIterStreamsAndHashesCorrectly(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := []byte(strings.Repeat("stream me ", 1000))

	h, err := s.WriteIter(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("WriteIter: %v", err)
	}
	if h != hashref.Sum(b) {
		t.Fatalf("WriteIter hash = %v, want %v", h, hashref.Sum(b))
	}
	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, b) {
		t.Fatal("WriteIter did not preserve the streamed content")
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	missing := hashref.Sum([]byte("never written"))
	if _, err := s.Read(missing); err == nil {
		t.Fatal("expected an error reading a hash that was never written")
	}
	if s.Exists(missing) {
		t.Fatal("Exists should report false for a hash never written")
	}
}

func TestDeleteIsBestEffort(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := []byte("delete me")
	h, err := s.Write(b)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(h) {
		t.Fatal("expected blob to be gone after Delete")
	}
	// Deleting an already-absent blob must not be an error.
	if err := s.Delete(h); err != nil {
		t.Fatalf("Delete of an already-deleted blob: %v", err)
	}
}

func TestAllHashesEnumeratesWrittenBlobs(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var want []hashref.Hash
	for _, s2 := range []string{"one", "two", "three"} {
		h, err := s.Write([]byte(s2))
		if err != nil {
			t.Fatalf("Write(%q): %v", s2, err)
		}
		want = append(want, h)
	}

	got, err := s.AllHashes()
	if err != nil {
		t.Fatalf("AllHashes: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("AllHashes returned %d hashes, want %d", len(got), len(want))
	}
	gotSet := map[hashref.Hash]bool{}
	for _, h := range got {
		gotSet[h] = true
	}
	for _, h := range want {
		if !gotSet[h] {
			t.Fatalf("AllHashes missing expected hash %v", h)
		}
	}
}

func TestRetainDeletesUnkeptBlobs(t *testing.T) {
	s, err := New(t.TempDir(), "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keep, err := s.Write([]byte("keep this one"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	drop, err := s.Write([]byte("drop this one"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Retain(map[hashref.Hash]bool{keep: true}); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if !s.Exists(keep) {
		t.Fatal("Retain deleted a blob that was in the keep set")
	}
	if s.Exists(drop) {
		t.Fatal("Retain did not delete a blob absent from the keep set")
	}
}

func TestRetainSweepsOrphanedTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, "data", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tmpPath := filepath.Join(root, ".tmp-orphan")
	if err := os.WriteFile(tmpPath, []byte("partial write"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Retain(nil); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Fatal("expected Retain to sweep the orphaned temp file")
	}
}
