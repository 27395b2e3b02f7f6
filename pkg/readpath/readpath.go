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

// Package readpath implements spec.md C8, resolving a dataset path
// string to its RecordMeta (hash, links, version) regardless of which
// dataset family owns it, plus the virtual "meta/system/system/<kind>"
// listings. It plays the role Perkeep's pkg/search index plays in
// resolving a blob.Ref or permanode to its describing metadata, without
// that package's full describe-graph machinery — this system only ever
// needs one record's metadata at a time, fanned out over a batch of
// paths.
package readpath

import (
	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"pigeon-optics.org/pkg/dataset"
	"pigeon-optics.org/pkg/dspath"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// Result is one path's resolution, mirroring spec.md §4.8's
// {path, links, version, hash}. Err is set, and the other fields left
// zero, when resolving path failed — an individual failure doesn't
// abort resolving the rest of a batch.
type Result struct {
	Path    string
	Links   []string
	Version int64
	Hash    hashref.Hash
	Err     error
}

// Store resolves paths across both dataset families and the virtual
// system listings.
type Store struct {
	datasets *dataset.Store
	lenses   *dataset.Store
	files    *filestore.Store
	log      *zap.Logger
}

// New returns a Store dispatching "datasets" paths to datasets, "lenses"
// paths to lenses, and "meta/system/system/<kind>" listings by
// enumerating directories directly in files.
func New(datasets, lenses *dataset.Store, files *filestore.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{datasets: datasets, lenses: lenses, files: files, log: log}
}

func (s *Store) storeFor(source dspath.Source) *dataset.Store {
	switch source {
	case dspath.SourceDatasets:
		return s.datasets
	case dspath.SourceLenses:
		return s.lenses
	default:
		return nil
	}
}

// Meta resolves a batch of path strings to their RecordMeta, fanning
// the batch out across goroutines since each path's resolution is
// independent I/O. Each result is independent: one path erroring
// doesn't prevent the others from resolving. System virtual paths
// (source "meta") always resolve with Hash left as hashref.Zero —
// spec.md Open Question 3: they carry no real content hash, and
// callers must not attempt attachment resolution against them.
func (s *Store) Meta(paths []string) []Result {
	out := make([]Result, len(paths))
	var g errgroup.Group
	for i, raw := range paths {
		i, raw := i, raw
		g.Go(func() error {
			out[i] = s.resolveOne(raw)
			return nil
		})
	}
	// Every resolveOne reports its own failure inside Result.Err; the
	// group itself never returns an error, so there is nothing to check.
	_ = g.Wait()
	return out
}

func (s *Store) resolveOne(raw string) Result {
	p, err := dspath.Decode(raw)
	if err != nil {
		return Result{Path: raw, Err: err}
	}
	if p.Source == dspath.SourceMeta {
		return Result{Path: raw, Hash: hashref.Zero}
	}

	ds := s.storeFor(p.Source)
	if ds == nil {
		return Result{Path: raw, Err: pkgerr.NotFoundf("readpath: unknown source %q", p.Source)}
	}
	meta, err := ds.ReadMeta(p.User, p.Name)
	if err != nil {
		return Result{Path: raw, Err: err}
	}
	if !p.HasRecord() {
		return Result{Path: raw, Version: meta.Version}
	}
	rm, ok := meta.Records[p.RecordID]
	if !ok {
		return Result{Path: raw, Err: pkgerr.NotFoundf("readpath: record %q not found in %s/%s", p.RecordID, p.User, p.Name)}
	}
	return Result{Path: raw, Links: rm.Links, Version: rm.Version, Hash: rm.Hash}
}

// Links reports the HashURL strings a single linker path currently
// carries, satisfying pkg/attachment's LinkResolver interface
// structurally (no import of pkg/attachment needed here). ok is false
// when the path no longer resolves to a record at all — distinguishing
// "record deleted" from "record present with no links".
func (s *Store) Links(path string) (links []string, ok bool, err error) {
	r := s.resolveOne(path)
	if r.Err != nil {
		if pkgerr.IsNotFound(r.Err) {
			return nil, false, nil
		}
		return nil, false, r.Err
	}
	return r.Links, true, nil
}

// Read returns the decoded value a path addresses: a record's payload
// for a datasets/lenses path, or a StructuredValue sequence of names
// for a meta/system/system/<kind> listing.
func (s *Store) Read(path string) (sv.Value, error) {
	p, err := dspath.Decode(path)
	if err != nil {
		return sv.Value{}, err
	}
	if p.Source == dspath.SourceMeta {
		return s.readSystemListing(p)
	}
	ds := s.storeFor(p.Source)
	if ds == nil {
		return sv.Value{}, pkgerr.NotFoundf("readpath: unknown source %q", p.Source)
	}
	if !p.HasRecord() {
		return sv.Value{}, pkgerr.ValidationFailedf("readpath: %q does not address a record", path)
	}
	v, ok, err := ds.Read(p.User, p.Name, p.RecordID)
	if err != nil {
		return sv.Value{}, err
	}
	if !ok {
		return sv.Value{}, pkgerr.NotFoundf("readpath: record %q not found in %s/%s", p.RecordID, p.User, p.Name)
	}
	return v, nil
}

// Exists reports whether path currently resolves to a value.
func (s *Store) Exists(path string) bool {
	_, err := s.Read(path)
	return err == nil
}

// readSystemListing serves "meta/system/system/<kind>": the literal
// spec.md §4.8 virtual path decodes (through dspath's generic
// source/user/name/recordID shape) to User="system", Name="system",
// RecordID=<kind>, where kind names the directory to enumerate
// ("datasets" or "lenses" list every user who owns one).
func (s *Store) readSystemListing(p dspath.Path) (sv.Value, error) {
	kind := p.RecordID
	if kind == "" {
		kind = p.Name
	}
	names, err := s.files.IterateFolders([]string{kind})
	if err != nil {
		return sv.Value{}, err
	}
	items := make([]sv.Value, len(names))
	for i, n := range names {
		items[i] = sv.String(n)
	}
	return sv.Seq(items), nil
}
