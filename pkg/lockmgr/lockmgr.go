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

// Package lockmgr implements the scoped, per-key critical section used by
// pkg/filestore's update primitive and pkg/attachment's per-hash mutators
// (spec.md §4.5, §4.7, §9 "Scoped locks"). It generalizes the pattern
// Perkeep's pkg/blobserver/localdisk uses for its single dirLockMu
// (pkg/blobserver/localdisk/localdisk.go) to an arbitrary number of
// independently-lockable string keys, with guaranteed release on every
// exit path including panics, via Acquire's deferred Unlock contract.
package lockmgr

import (
	"sort"
	"sync"
)

// Manager hands out exclusive locks keyed by an arbitrary string (e.g. a
// file-store path joined with "/"). Locks are
// created lazily and garbage collected once their reference count drops
// to zero, so a long-running process doesn't accumulate one mutex per
// key ever touched.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	refcount int
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

// Unlocker releases the lock obtained by Acquire. Calling Unlock more than
// once panics, matching sync.Mutex's own double-unlock behavior.
type Unlocker interface {
	Unlock()
}

type unlocker struct {
	m   *Manager
	key string
	e   *entry
}

func (u *unlocker) Unlock() {
	u.e.mu.Unlock()
	u.m.mu.Lock()
	u.e.refcount--
	if u.e.refcount == 0 {
		delete(u.m.locks, u.key)
	}
	u.m.mu.Unlock()
}

// Acquire blocks until the exclusive lock for key is held, and returns an
// Unlocker. Callers must call Unlock exactly once, typically via defer
// immediately after Acquire returns, so the lock is released on every
// exit path including a panic unwinding through the deferred call.
func (m *Manager) Acquire(key string) Unlocker {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refcount++
	m.mu.Unlock()

	e.mu.Lock()
	return &unlocker{m: m, key: key, e: e}
}

// AcquireAll locks every key in keys, in sorted order, to avoid the
// classic lock-ordering deadlock spec.md §4.5 calls out ("locks are
// strictly acquired in path-sort order when multiple are needed").
// Duplicate keys are locked once. It returns a single Unlocker that
// releases all of them in reverse acquisition order.
func (m *Manager) AcquireAll(keys []string) Unlocker {
	uniq := make(map[string]bool, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if !uniq[k] {
			uniq[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]Unlocker, 0, len(sorted))
	for _, k := range sorted {
		held = append(held, m.Acquire(k))
	}
	return multiUnlocker(held)
}

type multiUnlocker []Unlocker

func (m multiUnlocker) Unlock() {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].Unlock()
	}
}
