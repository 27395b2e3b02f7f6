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

// Package blobstore implements spec.md C3, a filesystem-backed
// content-addressed store for raw bytes keyed by SHA-256. It is modeled
// directly on Perkeep's pkg/blobserver/localdisk: hash-then-atomic-rename
// writes (pkg/blobserver/localdisk/receive.go), a sharded directory
// layout under the store root (pkg/blobserver/localdisk/path.go), and a
// dir-lock mutex modeled on pkg/blobserver/localdisk/localdisk.go's
// dirLockMu — narrowed here to
// the single sha256 hash family and the one-level-of-sharding layout
// spec.md §6.2 specifies, instead of localdisk's pluggable digest family
// and two-level shard.
package blobstore

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/pkgerr"
)

// Store is a filesystem CAS rooted at a directory.
type Store struct {
	root string
	ext  string // file extension (without dot); "data" for raw attachment
	// blobs (spec.md §6.2), "cbor" for a per-dataset object store.
	log *zap.Logger

	// dirMu is shaped like localdisk.dirLockMu and is held for read
	// while a blob is renamed into its shard directory and while
	// ReadStream opens a blob.
	// Nothing in this package takes it for write: shard directories are
	// never removed, not even once emptied by Retain or Delete.
	dirMu sync.RWMutex
}

// New opens (creating if necessary) a blob store rooted at root, naming
// stored files with the given extension (without a leading dot).
func New(root, ext string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, pkgerr.IOErrorf(err, "blobstore: creating root %q", root)
	}
	return &Store{root: root, ext: ext, log: log}, nil
}

func (s *Store) shardDir(h hashref.Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[:2])
}

// Path returns the direct filesystem path for h, for sendfile-style
// optimisations by a caller that wants to serve it directly.
func (s *Store) Path(h hashref.Hash) string {
	hex := h.String()
	return filepath.Join(s.shardDir(h), hex[2:]+"."+s.ext)
}

// Exists reports whether a blob for h is present.
func (s *Store) Exists(h hashref.Hash) bool {
	_, err := os.Stat(s.Path(h))
	return err == nil
}

// Read returns the full contents of the blob for h.
func (s *Store) Read(h hashref.Hash) ([]byte, error) {
	b, err := os.ReadFile(s.Path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerr.NotFoundf("blobstore: no blob for %s", h)
		}
		return nil, pkgerr.IOErrorf(err, "blobstore: read %s", h)
	}
	return b, nil
}

// ReadStream opens the blob for h for streaming reads. The caller must
// Close it.
func (s *Store) ReadStream(h hashref.Hash) (io.ReadCloser, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	f, err := os.Open(s.Path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerr.NotFoundf("blobstore: no blob for %s", h)
		}
		return nil, pkgerr.IOErrorf(err, "blobstore: read %s", h)
	}
	return f, nil
}

// Write hashes b and stores it, returning its Hash. Writing identical
// bytes twice is a cheap no-op the second time (idempotent).
func (s *Store) Write(b []byte) (hashref.Hash, error) {
	h := hashref.Sum(b)
	if s.Exists(h) {
		return h, nil
	}
	if err := s.writeAt(h, func(f *os.File) error {
		_, err := f.Write(b)
		return err
	}); err != nil {
		return hashref.Hash{}, err
	}
	return h, nil
}

// WriteIter streams r to the store while hashing it, without buffering
// the whole blob in memory first.
func (s *Store) WriteIter(r io.Reader) (hashref.Hash, error) {
	hasher := hashref.NewHasher()
	tmp, cleanup, err := s.tempFile()
	if err != nil {
		return hashref.Hash{}, err
	}
	defer cleanup()

	if _, err := io.Copy(io.MultiWriter(tmp, hasher), r); err != nil {
		tmp.Close()
		return hashref.Hash{}, pkgerr.IOErrorf(err, "blobstore: streaming write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return hashref.Hash{}, pkgerr.IOErrorf(err, "blobstore: fsync")
	}
	if err := tmp.Close(); err != nil {
		return hashref.Hash{}, pkgerr.IOErrorf(err, "blobstore: close temp file")
	}

	h, err := hashref.FromSum(hasher.Sum(nil))
	if err != nil {
		return hashref.Hash{}, err
	}
	if err := s.finalize(h, tmp.Name()); err != nil {
		return hashref.Hash{}, err
	}
	return h, nil
}

func (s *Store) tempFile() (*os.File, func(), error) {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, nil, pkgerr.IOErrorf(err, "blobstore")
	}
	name := filepath.Join(s.root, ".tmp-"+uuid.NewString())
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, nil, pkgerr.IOErrorf(err, "blobstore: creating temp file")
	}
	cleanup := func() { os.Remove(name) }
	return f, cleanup, nil
}

// writeAt is the buffered-write path: write runs against an open temp
// file, which is then hashed-and-renamed into place.
func (s *Store) writeAt(h hashref.Hash, write func(*os.File) error) error {
	tmp, cleanup, err := s.tempFile()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := write(tmp); err != nil {
		tmp.Close()
		return pkgerr.IOErrorf(err, "blobstore: writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pkgerr.IOErrorf(err, "blobstore: fsync")
	}
	if err := tmp.Close(); err != nil {
		return pkgerr.IOErrorf(err, "blobstore: close temp file")
	}
	return s.finalize(h, tmp.Name())
}

// finalize renames a staged temp file into its final content-addressed
// path, exactly as localdisk/receive.go does: fsync then rename, so a
// crash between the two steps leaves only an orphaned temp file, never a
// half-written blob at its real path.
func (s *Store) finalize(h hashref.Hash, tmpName string) error {
	dir := s.shardDir(h)
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		os.Remove(tmpName)
		return pkgerr.IOErrorf(err, "blobstore: mkdir %q", dir)
	}
	dst := s.Path(h)
	if _, err := os.Stat(dst); err == nil {
		// Idempotent: identical content already present under this
		// hash, discard the duplicate temp file instead of erroring.
		os.Remove(tmpName)
		return nil
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return pkgerr.IOErrorf(err, "blobstore: rename into place")
	}
	return nil
}

// Delete best-effort unlinks the blob for h; it is not an error if the
// blob is already absent.
func (s *Store) Delete(h hashref.Hash) error {
	err := os.Remove(s.Path(h))
	if err != nil && !os.IsNotExist(err) {
		return pkgerr.IOErrorf(err, "blobstore: delete %s", h)
	}
	return nil
}

// AllHashes enumerates every hash currently stored, for use by Retain.
func (s *Store) AllHashes() ([]hashref.Hash, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, pkgerr.IOErrorf(err, "blobstore: listing root")
	}
	var out []hashref.Hash
	for _, shard := range entries {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return nil, pkgerr.IOErrorf(err, "blobstore: listing shard %q", shardPath)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			hex := shard.Name() + s.trimSuffix(f.Name())
			h, err := hashref.FromHex(hex)
			if err != nil {
				continue // swept temp file or foreign entry; ignore
			}
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) trimSuffix(name string) string {
	suffix := "." + s.ext
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return ""
}

// Retain enumerates every stored hash and deletes any not present in
// keep, per spec.md §4.3. It is the mechanism pkg/dataset uses to GC
// objects that fell out of every retained DatasetMeta version. Partial
// temp files left behind by a crash mid-write are swept here too, since
// AllHashes only returns names matching the finalized "<hex>.data" shape.
func (s *Store) Retain(keep map[hashref.Hash]bool) error {
	all, err := s.AllHashes()
	if err != nil {
		return err
	}
	s.sweepTempFiles()
	var firstErr error
	for _, h := range all {
		if keep[h] {
			continue
		}
		if err := s.Delete(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) sweepTempFiles() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) >= 5 && e.Name()[:5] == ".tmp-" {
			if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
				s.log.Warn("blobstore: sweeping orphaned temp file", zap.String("name", e.Name()), zap.Error(err))
			}
		}
	}
}
