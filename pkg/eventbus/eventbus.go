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

// Package eventbus implements spec.md C9, the process-local pathUpdated
// pub/sub fabric pkg/lens listens on to know when to re-run a build. It
// plays the role Perkeep's pkg/blobserver.BlobHub plays for blob-received
// notifications (_examples/perkeep-perkeep/pkg/blobserver/blobhub.go),
// narrowed from BlobHub's per-channel fan-out to the single coalescing
// dispatcher spec.md §4.9 and §9 "coalesce by (path, maxVersion)" call
// for: listeners run sequentially, in registration order, once per
// distinct path per tick, with the highest version published that tick.
package eventbus

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler receives a pathUpdated notification. It must not panic;
// a panic is recovered, logged, and treated as this invocation failing,
// without affecting other listeners.
type Handler func(path string, version int64)

// Bus is a single-process pathUpdated dispatcher.
type Bus struct {
	mu        sync.Mutex
	listeners []*registration
	nextID    int
	pending   map[string]int64
	scheduled bool
	log       *zap.Logger
}

type registration struct {
	id int
	h  Handler
}

// New returns an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{pending: make(map[string]int64), log: log}
}

// On registers h to be called for every future pathUpdated event. The
// returned function unregisters it.
func (b *Bus) On(h Handler) (unregister func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, &registration{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.listeners {
			if r.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish queues a pathUpdated(path, version) notification for delivery
// on the next tick. If path already has a pending notification this
// tick, the higher of the two versions wins (coalescing), and listeners
// see one call instead of two.
func (b *Bus) Publish(path string, version int64) {
	b.mu.Lock()
	if cur, ok := b.pending[path]; !ok || version > cur {
		b.pending[path] = version
	}
	already := b.scheduled
	b.scheduled = true
	b.mu.Unlock()

	if !already {
		go b.flush()
	}
}

// flush is the "next scheduler tick": it drains whatever accumulated in
// pending since it was last called and delivers each path's event to
// every listener, in registration order. Delivery is best-effort: a
// listener that panics is logged and skipped, never aborting the batch.
func (b *Bus) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]int64)
	b.scheduled = false
	listeners := make([]*registration, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		version := pending[path]
		for _, r := range listeners {
			b.invoke(r.h, path, version)
		}
	}
}

func (b *Bus) invoke(h Handler, path string, version int64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("eventbus: listener panicked",
				zap.Any("recover", r), zap.String("path", path), zap.Int64("version", version))
		}
	}()
	h(path, version)
}
