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

// Package attachment implements spec.md C7, the attachment store: a
// blob store and a meta store keyed by the same SHA-256 hash, a
// process-wide hold refcount table, and the validate() GC oracle that
// reconciles an attachment's persistent linker set against the dataset
// records that actually still reference it. It is grounded on the same
// stage-then-rename discipline pkg/blobstore and pkg/filestore already
// implement (themselves modeled on Perkeep's
// pkg/blobserver/localdisk/receive.go); what's new here relative to
// those two packages is the dual in-memory/on-disk reference count the
// original doesn't need, since Perkeep blobs are immortal once uploaded.
package attachment

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pigeon-optics.org/pkg/blobstore"
	"pigeon-optics.org/pkg/clock"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// DefaultWatchdog is how long a hold may go unreleased before it is
// logged as a diagnostic (spec.md §4.7: "logs if never released;
// diagnostic only, no action").
const DefaultWatchdog = 10 * time.Second

// Meta is spec.md's AttachmentMeta.
type Meta struct {
	Created  int64
	Updated  int64
	Linkers  map[string]bool
	UserMeta map[string]sv.Value
}

// LinkResolver is the slice of pkg/readpath's Store that Validate needs:
// given a linker path, the HashURLs that record currently carries, or
// ok=false if the path no longer resolves to any record at all.
type LinkResolver interface {
	Links(path string) (links []string, ok bool, err error)
}

// Store is the attachment blob+meta store.
type Store struct {
	blobs    *blobstore.Store
	meta     *filestore.Store
	resolver LinkResolver
	clk      clock.Clock
	watchdog time.Duration
	log      *zap.Logger

	holdMu sync.Mutex
	holds  map[hashref.Hash]int
}

// New returns a Store. resolver may be nil initially and set later with
// SetResolver, since pkg/readpath's Store typically needs this Store's
// siblings (the dataset stores) constructed first, and readpath itself
// has no dependency back on attachment — wiring happens once, at
// startup, in whichever order the caller's constructors allow.
func New(blobs *blobstore.Store, meta *filestore.Store, clk clock.Clock, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		blobs: blobs, meta: meta, clk: clk, watchdog: DefaultWatchdog,
		log: log, holds: make(map[hashref.Hash]int),
	}
}

// SetResolver wires the LinkResolver Validate consults. Must be called
// before the first Validate (directly, or indirectly via a hold
// reaching zero).
func (s *Store) SetResolver(r LinkResolver) { s.resolver = r }

func metaPath(h hashref.Hash) []string {
	hex := h.String()
	return []string{"attachments", "meta", hex[:2], hex[2:]}
}

// WriteStream streams r into the blob store, merges linkers and
// userMeta into the attachment's persistent Meta, and returns the
// content hash plus a release function for the implicit hold this
// write takes out (spec.md step 3: "release = hold(hash)") so the
// attachment survives at least until the caller is done wiring it into
// a record.
func (s *Store) WriteStream(r io.Reader, linkers []string, userMeta map[string]sv.Value) (hashref.Hash, func(), error) {
	h, err := s.blobs.WriteIter(r)
	if err != nil {
		return hashref.Hash{}, nil, err
	}
	release := s.Hold(h)

	err = s.meta.Update(metaPath(h), func(current sv.Value, exists bool) (sv.Value, bool, error) {
		var prev Meta
		if exists {
			var perr error
			prev, perr = metaFromValue(current)
			if perr != nil {
				return sv.Value{}, false, perr
			}
		}
		now := clock.NowMillis(s.clk)
		merged := Meta{
			Created:  prev.Created,
			Updated:  now,
			Linkers:  unionLinkers(prev.Linkers, linkers),
			UserMeta: mergeUserMeta(prev.UserMeta, userMeta),
		}
		if merged.Created == 0 {
			merged.Created = now
		}
		return metaToValue(merged), true, nil
	})
	if err != nil {
		release()
		return hashref.Hash{}, nil, err
	}
	return h, release, nil
}

// ReadStream opens the blob for h.
func (s *Store) ReadStream(h hashref.Hash) (io.ReadCloser, error) {
	return s.blobs.ReadStream(h)
}

// ReadMeta returns the attachment's Meta, if present.
func (s *Store) ReadMeta(h hashref.Hash) (Meta, bool, error) {
	v, ok, err := s.meta.Read(metaPath(h))
	if err != nil || !ok {
		return Meta{}, ok, err
	}
	m, err := metaFromValue(v)
	return m, true, err
}

// Has reports whether both the blob and its meta exist.
func (s *Store) Has(h hashref.Hash) bool {
	return s.blobs.Exists(h) && s.meta.Exists(metaPath(h))
}

// Link adds dataPaths to h's linker set. Fails NOT_FOUND if h has no
// meta yet (it must have been written via WriteStream first).
func (s *Store) Link(h hashref.Hash, dataPaths ...string) error {
	return s.meta.Update(metaPath(h), func(current sv.Value, exists bool) (sv.Value, bool, error) {
		if !exists {
			return sv.Value{}, false, pkgerr.NotFoundf("attachment: %s has no meta", h)
		}
		m, err := metaFromValue(current)
		if err != nil {
			return sv.Value{}, false, err
		}
		m.Linkers = unionLinkers(m.Linkers, dataPaths)
		m.Updated = clock.NowMillis(s.clk)
		return metaToValue(m), true, nil
	})
}

// Hold takes out an in-memory soft reference on h, preventing Validate
// from deleting it even if its linker set is empty. The returned
// function releases the hold; releasing the last outstanding hold on h
// triggers Validate(h). release is safe to call exactly once; a second
// call is logged and ignored.
func (s *Store) Hold(h hashref.Hash) (release func()) {
	s.holdMu.Lock()
	s.holds[h]++
	s.holdMu.Unlock()

	timer := time.AfterFunc(s.watchdog, func() {
		s.holdMu.Lock()
		stillHeld := s.holds[h] > 0
		s.holdMu.Unlock()
		if stillHeld {
			s.log.Warn("attachment: hold outstanding past watchdog window",
				zap.String("hash", h.String()), zap.Duration("watchdog", s.watchdog))
		}
	})

	var released int32
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			s.log.Warn("attachment: release called more than once", zap.String("hash", h.String()))
			return
		}
		timer.Stop()

		s.holdMu.Lock()
		s.holds[h]--
		remaining := s.holds[h]
		if remaining <= 0 {
			delete(s.holds, h)
		}
		s.holdMu.Unlock()

		if remaining <= 0 {
			if _, err := s.Validate(h); err != nil {
				s.log.Warn("attachment: validate after hold release failed",
					zap.String("hash", h.String()), zap.Error(err))
			}
		}
	}
}

// Validate is the GC oracle (spec.md §4.7 step 4): it re-walks h's
// linker set through the resolver, drops any linker path whose record
// no longer references h, and deletes the attachment outright once no
// linker and no hold remain. It returns whether the attachment is still
// retained on disk afterward.
func (s *Store) Validate(h hashref.Hash) (bool, error) {
	path := metaPath(h)
	var retained bool
	err := s.meta.UpdateAll([][]string{path}, func() error {
		v, ok, err := s.meta.Read(path)
		if err != nil {
			return err
		}
		if !ok {
			retained = false
			return nil
		}
		m, err := metaFromValue(v)
		if err != nil {
			return err
		}

		kept := make(map[string]bool, len(m.Linkers))
		target := h.String()
		for linker := range m.Linkers {
			if s.resolver == nil {
				// No resolver wired: can't verify, so don't destroy data
				// based on an unverifiable claim.
				kept[linker] = true
				continue
			}
			links, stillExists, lerr := s.resolver.Links(linker)
			if lerr != nil {
				s.log.Warn("attachment: resolving linker during validate", zap.String("linker", linker), zap.Error(lerr))
				kept[linker] = true
				continue
			}
			if !stillExists {
				continue
			}
			for _, l := range links {
				if parsed, ok := sv.ParseHashURL(l); ok && parsed.Hex == target {
					kept[linker] = true
					break
				}
			}
		}
		m.Linkers = kept

		s.holdMu.Lock()
		held := s.holds[h] > 0
		s.holdMu.Unlock()

		retained = len(kept) > 0 || held
		if retained {
			return s.meta.Write(path, metaToValue(m))
		}

		if err := s.blobs.Delete(h); err != nil {
			return err
		}
		return s.meta.Delete(path)
	})
	return retained, err
}

func unionLinkers(existing map[string]bool, add []string) map[string]bool {
	out := make(map[string]bool, len(existing)+len(add))
	for k := range existing {
		out[k] = true
	}
	for _, a := range add {
		out[a] = true
	}
	return out
}

func mergeUserMeta(base, overlay map[string]sv.Value) map[string]sv.Value {
	out := make(map[string]sv.Value, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func metaToValue(m Meta) sv.Value {
	linkers := make([]sv.Value, 0, len(m.Linkers))
	for l := range m.Linkers {
		linkers = append(linkers, sv.String(l))
	}
	fields := map[string]sv.Value{
		"created": sv.Int(m.Created),
		"updated": sv.Int(m.Updated),
		"linkers": sv.Seq(linkers),
	}
	for k, v := range m.UserMeta {
		if _, reserved := fields[k]; !reserved {
			fields[k] = v
		}
	}
	return sv.Map(fields)
}

func metaFromValue(v sv.Value) (Meta, error) {
	if v.Kind() != sv.KindMap {
		return Meta{}, pkgerr.CodecErrorf(nil, "attachment: meta value is not a mapping")
	}
	fields := v.MapVal()
	m := Meta{
		Created:  fields["created"].Int(),
		Updated:  fields["updated"].Int(),
		Linkers:  map[string]bool{},
		UserMeta: map[string]sv.Value{},
	}
	if lv, ok := fields["linkers"]; ok && lv.Kind() == sv.KindSeq {
		for _, item := range lv.SeqVal() {
			m.Linkers[item.Str()] = true
		}
	}
	for k, fv := range fields {
		switch k {
		case "created", "updated", "linkers":
		default:
			m.UserMeta[k] = fv
		}
	}
	return m, nil
}
