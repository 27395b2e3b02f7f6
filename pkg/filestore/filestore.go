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

// Package filestore implements spec.md C5, a path-keyed persistent map
// from a segment path to a StructuredValue, encoded with the canonical
// codec and written with the same temp-file-then-atomic-rename discipline
// pkg/blobstore uses for blobs (itself grounded on
// _examples/perkeep-perkeep/pkg/blobserver/localdisk/receive.go). Unlike
// the blob store, file-store entries are mutable: Update is the scoped
// read-modify-write primitive every higher layer (pkg/dataset's
// updateMeta, pkg/attachment's per-hash meta mutators) builds on.
package filestore

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/lockmgr"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// Store is a path-keyed persistent map rooted at a directory.
type Store struct {
	root  string
	canon codec.Codec
	locks *lockmgr.Manager
	log   *zap.Logger
}

// New opens (creating if necessary) a file store rooted at root, encoding
// values with reg's canonical codec.
func New(root string, reg *codec.Registry, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, pkgerr.IOErrorf(err, "filestore: creating root %q", root)
	}
	return &Store{root: root, canon: reg.Canonical(), locks: lockmgr.New(), log: log}, nil
}

// segEncode keeps path segments filesystem-safe and unambiguous: a
// segment containing "/" or starting with "." would otherwise escape its
// directory or collide with the store's own dotfiles (temp files, in
// particular). Mirrors pkg/dspath's own segment encoding.
func segEncode(seg string) string {
	encoded := url.PathEscape(seg)
	if strings.HasPrefix(encoded, ".") {
		encoded = "%2E" + encoded[1:]
	}
	return encoded
}

// key renders path as the lock manager's key. The on-disk location is
// computed separately by fsPath.
func key(path []string) string {
	return strings.Join(path, "/")
}

func (s *Store) fsPath(path []string) string {
	encoded := make([]string, len(path))
	for i, seg := range path {
		encoded[i] = segEncode(seg)
	}
	rel := filepath.Join(encoded...)
	return filepath.Join(s.root, rel+".cbor")
}

// Read returns the value stored at path. ok is false if nothing is
// stored there.
func (s *Store) Read(path []string) (v sv.Value, ok bool, err error) {
	b, err := os.ReadFile(s.fsPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return sv.Value{}, false, nil
		}
		return sv.Value{}, false, pkgerr.IOErrorf(err, "filestore: read %v", path)
	}
	v, err = s.canon.Decode(b)
	if err != nil {
		return sv.Value{}, false, pkgerr.CodecErrorf(err, "filestore: decoding %v", path)
	}
	return v, true, nil
}

// Exists reports whether path has a stored value.
func (s *Store) Exists(path []string) bool {
	_, err := os.Stat(s.fsPath(path))
	return err == nil
}

// Write stores v at path, replacing whatever (if anything) was there,
// via stage-then-rename so concurrent readers never observe a partial
// write.
func (s *Store) Write(path []string, v sv.Value) error {
	b, err := s.canon.Encode(v)
	if err != nil {
		return pkgerr.CodecErrorf(err, "filestore: encoding %v", path)
	}
	dst := s.fsPath(path)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return pkgerr.IOErrorf(err, "filestore: mkdir %q", dir)
	}
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		os.Remove(tmp)
		return pkgerr.IOErrorf(err, "filestore: writing temp file")
	}
	if f, ferr := os.Open(tmp); ferr == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return pkgerr.IOErrorf(err, "filestore: rename into place")
	}
	return nil
}

// Delete removes any value stored at path. It is not an error if nothing
// was there.
func (s *Store) Delete(path []string) error {
	err := os.Remove(s.fsPath(path))
	if err != nil && !os.IsNotExist(err) {
		return pkgerr.IOErrorf(err, "filestore: delete %v", path)
	}
	return nil
}

// UpdateFunc computes the new value for a path given the current one.
// exists is false when nothing is stored yet. Returning write=false
// leaves the store untouched (spec.md's "undefined result" case) —
// used by callers that want to abort the update, e.g. on validation
// failure, without writing anything.
type UpdateFunc func(current sv.Value, exists bool) (result sv.Value, write bool, err error)

// Update is the scoped read-modify-write primitive (spec.md §4.5):
// acquire an exclusive in-process lock for path, read the current value,
// run fn, write its result if it asks to, and release the lock on every
// exit path including a panic or error return from fn.
func (s *Store) Update(path []string, fn UpdateFunc) error {
	unlock := s.locks.Acquire(key(path))
	defer unlock.Unlock()

	current, exists, err := s.Read(path)
	if err != nil {
		return err
	}
	result, write, err := fn(current, exists)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.Write(path, result)
}

// UpdateAll is Update generalized to multiple paths locked together, in
// path-sort order, for callers (pkg/dataset's writeEntries across
// several records) that must hold more than one path's lock at once
// without risking lock-ordering deadlocks.
func (s *Store) UpdateAll(paths [][]string, fn func() error) error {
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = key(p)
	}
	unlock := s.locks.AcquireAll(keys)
	defer unlock.Unlock()
	return fn()
}

// IterateFolders lists the immediate child segment names under prefix,
// i.e. the directory entries one level below prefix's directory,
// stripping the ".cbor" suffix from files. Used by pkg/dataset's list
// operation to enumerate dataset names under a user, and by pkg/readpath
// to enumerate users.
func (s *Store) IterateFolders(prefix []string) ([]string, error) {
	encoded := make([]string, len(prefix))
	for i, seg := range prefix {
		encoded[i] = segEncode(seg)
	}
	dir := filepath.Join(s.root, filepath.Join(encoded...))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerr.IOErrorf(err, "filestore: listing %v", prefix)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if e.IsDir() {
			out = append(out, name)
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".cbor"))
	}
	sort.Strings(out)
	return out, nil
}
