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

// Package dataset implements spec.md C6, the versioned dataset model:
// DatasetMeta storage, the updateMeta read-modify-write primitive, and
// record write/read/list built atop it. It plays the role Perkeep's
// pkg/schema claims-and-permanodes play atop pkg/blobserver — a
// higher-level mutable-looking model built from immutable content-
// addressed writes plus a small piece of authoritative mutable state
// (here, meta.cbor; there, the claim chain) — adapted to this system's
// single-writer-at-a-time, whole-snapshot versioning instead of
// Perkeep's append-only claim log.
package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"pigeon-optics.org/pkg/blobstore"
	"pigeon-optics.org/pkg/clock"
	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/dspath"
	"pigeon-optics.org/pkg/eventbus"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/objectstore"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// RecordMeta is spec.md's per-record metadata entry.
type RecordMeta struct {
	Hash    hashref.Hash
	Links   []string // HashURL strings, per spec.md's links: [HashURL...]
	Version int64
}

// DatasetMeta is spec.md's versioned dataset snapshot.
type DatasetMeta struct {
	Version int64
	Created int64
	Updated int64
	Config  map[string]sv.Value
	Records map[string]RecordMeta
}

// SortedRecordIDs returns the dataset's record IDs in natural string
// order, the order spec.md §4.6 step 7 requires records be kept in.
func (m DatasetMeta) SortedRecordIDs() []string {
	ids := make([]string, 0, len(m.Records))
	for id := range m.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m DatasetMeta) cloneRecords() map[string]RecordMeta {
	out := make(map[string]RecordMeta, len(m.Records))
	for k, v := range m.Records {
		out[k] = v
	}
	return out
}

// Validator holds the source-specific checks spec.md §4.6 calls
// "validateConfig"/"validateRecord". Datasets and lenses plug in
// different rules (a lens's config must name a map function and its
// records are never written directly by this path); both are supplied
// from outside the dataset package so it stays source-agnostic.
type Validator interface {
	ValidateConfig(meta DatasetMeta) error
	ValidateRecord(id string, data sv.Value) error
}

// NopValidator accepts every config and record; the default for callers
// (tests, the CLI) that don't need source-specific rules.
type NopValidator struct{}

func (NopValidator) ValidateConfig(DatasetMeta) error      { return nil }
func (NopValidator) ValidateRecord(string, sv.Value) error { return nil }

// AttachmentChecker is the slice of pkg/attachment's Store that
// writeEntries needs: confirming every hash link a record embeds
// actually resolves to a stored attachment before the record commits.
// It is deliberately narrower than attachment.Store: WriteEntries only
// verifies links, it does not register them. A record's path is added
// to an attachment's linker set at upload time (attachment.Store's
// WriteStream linkers argument), not here — a caller that uploads a
// blob without passing the eventual record path as a linker, then
// later references that hash from WriteEntries, must call
// attachment.Store.Link itself, or the attachment's linker set stays
// empty and it becomes eligible for GC on the next hold release.
type AttachmentChecker interface {
	Has(h hashref.Hash) bool
}

// Entry is one [id, data] pair passed to WriteEntries. Delete removes
// the record instead of writing it, matching spec.md's "data is
// null/undefined" case.
type Entry struct {
	ID     string
	Data   sv.Value
	Delete bool
}

// Store manages every dataset (or lens) under one Source tag.
type Store struct {
	source      dspath.Source
	root        string
	files       *filestore.Store
	reg         *codec.Registry
	attachments AttachmentChecker
	bus         *eventbus.Bus
	clk         clock.Clock
	validator   Validator
	paranoid    bool
	log         *zap.Logger

	objMu     sync.Mutex
	objStores map[string]*objectstore.Store

	// metaCache holds recently read DatasetMeta, keyed by "user/name".
	// ReadMeta is on the hot path of every record read and every
	// lens rebuild's change-detection scan; UpdateMeta/Create/Delete
	// all invalidate the entry they touch so a cached read never
	// outlives the version it was read at.
	metaCache *lru.Cache[string, DatasetMeta]
}

func metaCacheKey(user, name string) string { return user + "/" + name }

// New returns a Store for the given source ("datasets" or "lenses"),
// rooted at root (the shared data directory housing every source).
func New(source dspath.Source, root string, files *filestore.Store, reg *codec.Registry, attachments AttachmentChecker, bus *eventbus.Bus, clk clock.Clock, validator Validator, paranoid bool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		validator = NopValidator{}
	}
	cache, err := lru.New[string, DatasetMeta](256)
	if err != nil {
		// Only returns an error for a non-positive size, never for 256.
		panic(err)
	}
	return &Store{
		source: source, root: root, files: files, reg: reg,
		attachments: attachments, bus: bus, clk: clk, validator: validator,
		paranoid: paranoid, log: log, objStores: make(map[string]*objectstore.Store),
		metaCache: cache,
	}
}

func (s *Store) metaPath(user, name string) []string {
	return []string{string(s.source), user, name, "meta"}
}

func (s *Store) systemPath() string {
	return "meta/system/system/" + string(s.source)
}

// objectStore returns (creating if necessary) the per-dataset object
// store rooted at <root>/<source>/<user>/<name>/objects, per spec.md
// §6.2's per-dataset objects/<hh>/<rest>.cbor layout.
func (s *Store) objectStore(user, name string) (*objectstore.Store, error) {
	key := dspath.DatasetRoot(s.source, user, name)
	s.objMu.Lock()
	defer s.objMu.Unlock()
	if store, ok := s.objStores[key]; ok {
		return store, nil
	}
	dir := filepath.Join(s.root, string(s.source), user, name, "objects")
	blobs, err := blobstore.New(dir, "cbor", s.log)
	if err != nil {
		return nil, err
	}
	store := objectstore.New(blobs, s.reg, s.paranoid, s.log)
	s.objStores[key] = store
	return store, nil
}

// Create initializes an empty dataset at version 0.
func (s *Store) Create(user, name string, config map[string]sv.Value) error {
	path := s.metaPath(user, name)
	err := s.files.Update(path, func(_ sv.Value, exists bool) (sv.Value, bool, error) {
		if exists {
			return sv.Value{}, false, pkgerr.AlreadyExistsf("dataset: %s/%s already exists", user, name)
		}
		now := clock.NowMillis(s.clk)
		meta := DatasetMeta{Version: 0, Created: now, Updated: now, Config: config, Records: map[string]RecordMeta{}}
		if err := s.validator.ValidateConfig(meta); err != nil {
			return sv.Value{}, false, err
		}
		return toValue(meta), true, nil
	})
	if err != nil {
		return err
	}
	s.metaCache.Remove(metaCacheKey(user, name))
	s.bus.Publish(s.systemPath(), 0)
	s.bus.Publish(dspath.DatasetRoot(s.source, user, name), 0)
	return nil
}

// ReadMeta returns the current DatasetMeta for user/name.
func (s *Store) ReadMeta(user, name string) (DatasetMeta, error) {
	key := metaCacheKey(user, name)
	if cached, ok := s.metaCache.Get(key); ok {
		return cached, nil
	}
	v, ok, err := s.files.Read(s.metaPath(user, name))
	if err != nil {
		return DatasetMeta{}, err
	}
	if !ok {
		return DatasetMeta{}, pkgerr.NotFoundf("dataset: %s/%s not found", user, name)
	}
	meta, err := fromValue(v)
	if err != nil {
		return DatasetMeta{}, err
	}
	s.metaCache.Add(key, meta)
	return meta, nil
}

// Exists reports whether user/name has been created.
func (s *Store) Exists(user, name string) bool {
	return s.files.Exists(s.metaPath(user, name))
}

// List enumerates the dataset names owned by user.
func (s *Store) List(user string) ([]string, error) {
	return s.files.IterateFolders([]string{string(s.source), user})
}

// UpdateBlock receives a mutable draft (version already incremented,
// timestamp already advanced) to modify in place; it returns an error to
// abort the update without committing any change to meta.cbor. Object
// store writes the block already performed are still subject to the
// retain sweep below, so an aborted update never leaks unreferenced
// objects.
type UpdateBlock func(draft *DatasetMeta) error

// UpdateMeta is spec.md §4.6's pivotal primitive: scoped lock, seed a
// retain set from the current version's hashes, run block against a new
// draft, validate, retain, and commit — or leave the dataset untouched
// if block or validation fails.
func (s *Store) UpdateMeta(user, name string, block UpdateBlock) (DatasetMeta, error) {
	objStore, err := s.objectStore(user, name)
	if err != nil {
		return DatasetMeta{}, err
	}

	var committed DatasetMeta
	updateErr := s.files.Update(s.metaPath(user, name), func(current sv.Value, exists bool) (sv.Value, bool, error) {
		if !exists {
			return sv.Value{}, false, pkgerr.NotFoundf("dataset: %s/%s not found", user, name)
		}
		meta, err := fromValue(current)
		if err != nil {
			return sv.Value{}, false, err
		}

		retainSet := make(map[hashref.Hash]bool, len(meta.Records))
		for _, rm := range meta.Records {
			retainSet[rm.Hash] = true
		}

		draft := meta
		draft.Records = meta.cloneRecords()
		draft.Version++
		draft.Updated = clock.NowMillis(s.clk)

		blockErr := block(&draft)

		// Always sweep, whether or not block/validation succeeded:
		// objects the block wrote this attempt must not leak just
		// because the attempt itself was abandoned.
		defer func() {
			for _, rm := range draft.Records {
				retainSet[rm.Hash] = true
			}
			if rerr := objStore.Blobs().Retain(retainSet); rerr != nil {
				s.log.Warn("dataset: retain sweep failed", zap.String("user", user), zap.String("name", name), zap.Error(rerr))
			}
		}()

		if blockErr != nil {
			return sv.Value{}, false, blockErr
		}

		for id, rm := range draft.Records {
			if rm.Hash.IsZero() {
				return sv.Value{}, false, pkgerr.ValidationFailedf("dataset: record %q has no hash", id)
			}
			if rm.Version == 0 {
				rm.Version = draft.Version
				draft.Records[id] = rm
			}
		}

		if err := s.validator.ValidateConfig(draft); err != nil {
			return sv.Value{}, false, err
		}

		committed = draft
		return toValue(draft), true, nil
	})
	if updateErr != nil {
		return DatasetMeta{}, updateErr
	}
	s.metaCache.Add(metaCacheKey(user, name), committed)
	s.bus.Publish(dspath.DatasetRoot(s.source, user, name), committed.Version)
	return committed, nil
}

// WriteEntries is spec.md §4.6's writeEntries: within one UpdateMeta
// call, write or delete every entry, checking hash links resolve to a
// stored attachment before committing any of them. It does not call
// attachment.Store.Link on those hashes — see AttachmentChecker.
func (s *Store) WriteEntries(user, name string, entries []Entry, overwrite bool) (DatasetMeta, error) {
	objStore, err := s.objectStore(user, name)
	if err != nil {
		return DatasetMeta{}, err
	}
	written := make(map[string]bool, len(entries))

	return s.UpdateMeta(user, name, func(draft *DatasetMeta) error {
		for _, e := range entries {
			if e.Delete {
				delete(draft.Records, e.ID)
				continue
			}

			links := sv.ListHashURLs(e.Data)
			var missing []string
			for _, l := range links {
				h, convErr := hashref.FromHex(l.Hex)
				if convErr != nil || s.attachments == nil || !s.attachments.Has(h) {
					missing = append(missing, l.String())
				}
			}
			if len(missing) > 0 {
				return pkgerr.MissingAttachmentsErr(missing)
			}

			if err := s.validator.ValidateRecord(e.ID, e.Data); err != nil {
				return err
			}

			hash, err := objStore.Write(e.Data)
			if err != nil {
				return err
			}

			existing, had := draft.Records[e.ID]
			if !had || existing.Hash != hash {
				linkStrs := make([]string, len(links))
				for i, l := range links {
					linkStrs[i] = l.String()
				}
				draft.Records[e.ID] = RecordMeta{Hash: hash, Links: linkStrs, Version: draft.Version}
			}
			written[e.ID] = true
		}

		if overwrite {
			for id := range draft.Records {
				if !written[id] {
					delete(draft.Records, id)
				}
			}
		}
		return nil
	})
}

// Write is writeEntries for a single record.
func (s *Store) Write(user, name, recordID string, data sv.Value) (DatasetMeta, error) {
	return s.WriteEntries(user, name, []Entry{{ID: recordID, Data: data}}, false)
}

// Merge writes entries without touching records it doesn't mention.
func (s *Store) Merge(user, name string, entries []Entry) (DatasetMeta, error) {
	return s.WriteEntries(user, name, entries, false)
}

// Overwrite writes entries and removes every record not named by one of
// them.
func (s *Store) Overwrite(user, name string, entries []Entry) (DatasetMeta, error) {
	return s.WriteEntries(user, name, entries, true)
}

// Read returns the decoded value of one record, or ok=false if it's
// absent.
func (s *Store) Read(user, name, recordID string) (v sv.Value, ok bool, err error) {
	meta, err := s.ReadMeta(user, name)
	if err != nil {
		return sv.Value{}, false, err
	}
	rm, ok := meta.Records[recordID]
	if !ok {
		return sv.Value{}, false, nil
	}
	objStore, err := s.objectStore(user, name)
	if err != nil {
		return sv.Value{}, false, err
	}
	v, err = objStore.Read(rm.Hash)
	return v, true, err
}

// DeleteRecord removes a single record, committing a new version.
func (s *Store) DeleteRecord(user, name, recordID string) (DatasetMeta, error) {
	return s.WriteEntries(user, name, []Entry{{ID: recordID, Delete: true}}, false)
}

// Delete removes the whole dataset: its meta entry and its per-dataset
// object store, and notifies listeners that the system listing changed.
func (s *Store) Delete(user, name string) error {
	if err := s.files.Delete(s.metaPath(user, name)); err != nil {
		return err
	}
	dir := filepath.Join(s.root, string(s.source), user, name)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("dataset: removing object store directory", zap.String("dir", dir), zap.Error(err))
	}
	s.objMu.Lock()
	delete(s.objStores, dspath.DatasetRoot(s.source, user, name))
	s.objMu.Unlock()
	s.metaCache.Remove(metaCacheKey(user, name))

	// spec.md Open Question 2: the source emitted
	// pathUpdated("meta/system/system", source) here, with path and
	// version arguments transposed relative to every other call site.
	// Fixed: publish the system listing path itself, version 0.
	s.bus.Publish(s.systemPath(), 0)
	return nil
}

func toValue(meta DatasetMeta) sv.Value {
	records := make(map[string]sv.Value, len(meta.Records))
	for id, rm := range meta.Records {
		links := make([]sv.Value, len(rm.Links))
		for i, l := range rm.Links {
			links[i] = sv.String(l)
		}
		records[id] = sv.Map(map[string]sv.Value{
			"hash":    sv.Bytes(rm.Hash.Bytes()),
			"links":   sv.Seq(links),
			"version": sv.Int(rm.Version),
		})
	}
	return sv.Map(map[string]sv.Value{
		"version": sv.Int(meta.Version),
		"created": sv.Int(meta.Created),
		"updated": sv.Int(meta.Updated),
		"config":  sv.Map(meta.Config),
		"records": sv.Map(records),
	})
}

func fromValue(v sv.Value) (DatasetMeta, error) {
	if v.Kind() != sv.KindMap {
		return DatasetMeta{}, pkgerr.CodecErrorf(nil, "dataset: meta value is not a mapping")
	}
	m := v.MapVal()
	meta := DatasetMeta{
		Version: m["version"].Int(),
		Created: m["created"].Int(),
		Updated: m["updated"].Int(),
		Config:  map[string]sv.Value{},
		Records: map[string]RecordMeta{},
	}
	if cv, ok := m["config"]; ok && cv.Kind() == sv.KindMap {
		meta.Config = cv.MapVal()
	}
	if rv, ok := m["records"]; ok && rv.Kind() == sv.KindMap {
		for id, item := range rv.MapVal() {
			rm, err := recordFromValue(item)
			if err != nil {
				return DatasetMeta{}, err
			}
			meta.Records[id] = rm
		}
	}
	return meta, nil
}

func recordFromValue(v sv.Value) (RecordMeta, error) {
	if v.Kind() != sv.KindMap {
		return RecordMeta{}, pkgerr.CodecErrorf(nil, "dataset: record meta is not a mapping")
	}
	m := v.MapVal()
	var hash hashref.Hash
	if hv, ok := m["hash"]; ok {
		switch hv.Kind() {
		case sv.KindBytes:
			copy(hash[:], hv.Bin())
		case sv.KindString:
			if parsed, err := hashref.FromHex(hv.Str()); err == nil {
				hash = parsed
			}
		}
	}
	var links []string
	if lv, ok := m["links"]; ok && lv.Kind() == sv.KindSeq {
		for _, item := range lv.SeqVal() {
			links = append(links, item.Str())
		}
	}
	return RecordMeta{Hash: hash, Links: links, Version: m["version"].Int()}, nil
}
