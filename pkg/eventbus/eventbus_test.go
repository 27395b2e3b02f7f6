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

package eventbus

import (
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

func TestPublishDeliversToListener(t *testing.T) {
	b := New(nil)
	got := make(chan struct {
		path    string
		version int64
	}, 1)
	b.On(func(path string, version int64) {
		got <- struct {
			path    string
			version int64
		}{path, version}
	})

	b.Publish("datasets/alice/songs", 3)

	select {
	case ev := <-got:
		if ev.path != "datasets/alice/songs" || ev.version != 3 {
			t.Fatalf("got %+v, want path=datasets/alice/songs version=3", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishCoalescesToHighestVersion(t *testing.T) {
	b := New(nil)
	var versions []int64
	b.On(func(path string, version int64) { versions = append(versions, version) })

	// Mark a flush as already scheduled so these three Publish calls only
	// update the pending map, without each one racing to spawn its own
	// flush goroutine — isolating the coalescing logic from scheduling.
	b.mu.Lock()
	b.scheduled = true
	b.mu.Unlock()

	b.Publish("datasets/alice/songs", 1)
	b.Publish("datasets/alice/songs", 5)
	b.Publish("datasets/alice/songs", 2)

	b.flush()

	if len(versions) != 1 || versions[0] != 5 {
		t.Fatalf("got versions %v, want a single delivery at version 5", versions)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New(nil)
	calls := make(chan struct{}, 10)
	unregister := b.On(func(string, int64) { calls <- struct{}{} })
	unregister()

	b.Publish("datasets/alice/songs", 1)
	time.Sleep(100 * time.Millisecond)

	select {
	case <-calls:
		t.Fatal("unregistered listener should not have been called")
	default:
	}
}

func TestListenerPanicDoesNotStopOtherListeners(t *testing.T) {
	b := New(nil)
	secondCalled := make(chan struct{})
	b.On(func(string, int64) { panic("boom") })
	b.On(func(string, int64) { close(secondCalled) })

	b.Publish("datasets/alice/songs", 1)

	select {
	case <-secondCalled:
	case <-time.After(waitTimeout):
		t.Fatal("second listener was never called after the first panicked")
	}
}
