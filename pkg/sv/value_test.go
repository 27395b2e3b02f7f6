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

package sv

import (
	"testing"
	"time"
)

func TestEqualDistinguishesIntAndFloat(t *testing.T) {
	if Int(3).Equal(Float(3)) {
		t.Fatal("an int and a numerically equal float must not compare equal")
	}
}

func TestEqualStructural(t *testing.T) {
	a := Map(map[string]Value{
		"name": String("bob"),
		"tags": Seq([]Value{String("x"), String("y")}),
	})
	b := Map(map[string]Value{
		"tags": Seq([]Value{String("x"), String("y")}),
		"name": String("bob"),
	})
	if !a.Equal(b) {
		t.Fatal("maps built with different insertion order should still compare equal")
	}
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	m := Map(map[string]Value{"b": Int(2), "a": Int(1), "c": Int(3)})
	keys := m.SortedKeys()
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("SortedKeys()[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestTimeValueNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("test", 3600)
	local := time.Date(2026, 7, 31, 12, 0, 0, 0, loc)
	v := Time(local)
	if v.TimeVal().Location() != time.UTC {
		t.Fatal("Time() should normalize to UTC")
	}
	if !v.TimeVal().Equal(local) {
		t.Fatal("normalizing to UTC should not change the instant")
	}
}

func TestListHashURLsFindsNestedReferences(t *testing.T) {
	h1 := HashURL{Algo: "sha256", Hex: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	h2 := HashURL{Algo: "sha256", Hex: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}
	v := Map(map[string]Value{
		"avatar": HashURLValue(h1),
		"gallery": Seq([]Value{
			HashURLValue(h2),
			HashURLValue(h1), // duplicate, should be deduplicated
		}),
	})
	refs := ListHashURLs(v)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2 (deduplicated): %v", len(refs), refs)
	}
}

func TestListHashURLsEmptyForPlainValue(t *testing.T) {
	v := Map(map[string]Value{"name": String("nothing to see here")})
	if refs := ListHashURLs(v); len(refs) != 0 {
		t.Fatalf("expected no HashURLs, got %v", refs)
	}
}

func TestWalkVisitsEveryNode(t *testing.T) {
	v := Seq([]Value{Int(1), Map(map[string]Value{"k": Int(2)})})
	count := 0
	Walk(v, func(Value) { count++ })
	// v itself, the int, the map, and the map's value = 4
	if count != 4 {
		t.Fatalf("Walk visited %d nodes, want 4", count)
	}
}
