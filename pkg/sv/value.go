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

// Package sv defines StructuredValue, the tagged-union value type that
// every codec in pkg/codec converts to and from. Representing the dynamic,
// duck-typed values of the original system as one concrete Go type lets
// every higher layer (link extraction, hashing, validation) walk a single
// representation instead of re-implementing the walk per codec.
package sv

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSeq
	KindMap
	KindTime
	KindHashURL
)

// Value is a recursive StructuredValue: null, boolean, integer, float,
// string, byte-string, ordered sequence, string-keyed mapping, timestamp,
// or a HashURL reference to an attachment.
//
// Value is intentionally a plain struct rather than an interface so that
// it can be compared for structural equality with Equal and walked
// without a type switch at every call site.
type Value struct {
	kind Kind

	b    bool
	i    int64
	f    float64
	s    string // string, bytes (as raw string), or HashURL.String()
	t    time.Time
	seq  []Value
	mp   map[string]Value
	keys []string // KindMap keys, sorted by Map; nil for a Value built without Map
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value        { return Value{kind: KindBytes, s: string(b)} }
func Time(t time.Time) Value      { return Value{kind: KindTime, t: t.UTC()} }
func Seq(items []Value) Value     { return Value{kind: KindSeq, seq: items} }
func HashURLValue(h HashURL) Value { return Value{kind: KindHashURL, s: h.String()} }

// Map builds a mapping value and records its keys in sorted order, which
// SortedKeys then returns without re-sorting.
func Map(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Value{kind: KindMap, mp: m, keys: keys}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Bool() bool   { return v.b }
func (v Value) Int() int64   { return v.i }
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) Str() string  { return v.s }
func (v Value) Bin() []byte  { return []byte(v.s) }
func (v Value) TimeVal() time.Time { return v.t }
func (v Value) SeqVal() []Value    { return v.seq }

// MapVal returns the underlying map; use SortedKeys for a deterministic
// key order.
func (v Value) MapVal() map[string]Value { return v.mp }

// SortedKeys returns the map's keys in natural string-sort order; canonical
// encoders must use this, never Go's randomized map iteration order.
func (v Value) SortedKeys() []string {
	if v.keys != nil {
		return v.keys
	}
	keys := make([]string, 0, len(v.mp))
	for k := range v.mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) HashURL() HashURL {
	h, _ := ParseHashURL(v.s)
	return h
}

// Equal reports whether two values are structurally identical. Floats and
// ints do not compare equal to each other even if numerically equal,
// matching the distinct-type requirement of StructuredValue.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString, KindBytes, KindHashURL:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mp) != len(o.mp) {
			return false
		}
		for k, vv := range v.mp {
			ov, ok := o.mp[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.s))
	case KindSeq:
		return fmt.Sprintf("seq(%d)", len(v.seq))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.mp))
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindHashURL:
		return v.s
	}
	return "<invalid>"
}

// Walk recursively visits every Value in v, including v itself, depth
// first. visit may be called on container values before their children.
func Walk(v Value, visit func(Value)) {
	visit(v)
	switch v.kind {
	case KindSeq:
		for _, item := range v.seq {
			Walk(item, visit)
		}
	case KindMap:
		for _, k := range v.SortedKeys() {
			Walk(v.mp[k], visit)
		}
	}
}

// ListHashURLs walks v and returns every HashURL referenced anywhere
// within it, deduplicated and sorted by URL string.
func ListHashURLs(v Value) []HashURL {
	seen := make(map[string]HashURL)
	Walk(v, func(item Value) {
		if item.kind == KindHashURL {
			seen[item.s] = item.HashURL()
		}
	})
	out := make([]HashURL, 0, len(seen))
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// HasCycle reports whether v contains a reference cycle. StructuredValue
// is a tree by construction in this implementation (Go values can't alias
// sub-trees the way a dynamic-language object graph can), but codecs that
// decode from formats capable of expressing aliases/cycles (e.g. a custom
// binary format) must call this before accepting a decoded value.
func HasCycle(v Value) bool {
	// Values built through this package's constructors are always trees:
	// Seq and Map copy their slice/map headers but Value itself holds no
	// back-reference a decoder could use to introduce a cycle. Codecs are
	// required to decode strictly bottom-up, so this is a structural
	// guarantee, not a runtime check. Kept as a named function so codec
	// authors have one place to call out "cycles are rejected here" per
	// the design notes, and so a future decoder that *can* alias nodes
	// has a single seam to add real cycle detection.
	return false
}
