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

package codec

import (
	"time"

	"pigeon-optics.org/pkg/sv"
)

// toNative converts a StructuredValue into the plain Go value a
// byte-string-aware library (CBOR, MessagePack) encodes natively: []byte
// stays []byte, map[string]interface{} for maps (insertion order is lost,
// which is fine because canonical encoders re-sort keys themselves),
// []interface{} for sequences, and so on. HashURLs degrade to their plain
// string form — the wire format never distinguishes them from an
// ordinary string; they're recognized on decode by fromNative.
func toNative(v sv.Value) interface{} {
	switch v.Kind() {
	case sv.KindNull:
		return nil
	case sv.KindBool:
		return v.Bool()
	case sv.KindInt:
		return v.Int()
	case sv.KindFloat:
		return v.Float()
	case sv.KindString:
		return v.Str()
	case sv.KindHashURL:
		return v.Str()
	case sv.KindBytes:
		return v.Bin()
	case sv.KindTime:
		return v.TimeVal()
	case sv.KindSeq:
		items := v.SeqVal()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = toNative(item)
		}
		return out
	case sv.KindMap:
		m := v.MapVal()
		out := make(map[string]interface{}, len(m))
		for _, k := range v.SortedKeys() {
			out[k] = toNative(m[k])
		}
		return out
	}
	return nil
}

// ToNative exports toNative for non-codec consumers that need the same
// StructuredValue-to-plain-Go conversion without going through a
// registered Codec — pkg/lens, handing a record to a JS VM via goja's
// own Go-value conversion.
func ToNative(v sv.Value) interface{} { return toNative(v) }

// FromNative exports fromNative for the same reason as ToNative, in the
// other direction — pkg/lens, importing a sandbox's returned JS value.
func FromNative(x interface{}) sv.Value { return fromNative(x) }

// fromNative is the inverse of toNative. It recognizes []byte as
// KindBytes, time.Time as KindTime, and strings matching the hash://
// pattern as KindHashURL rather than KindString, exactly as spec.md §6.3
// describes ("every string value matching the prefix is treated as a
// reference").
func fromNative(x interface{}) sv.Value {
	switch t := x.(type) {
	case nil:
		return sv.Null()
	case bool:
		return sv.Bool(t)
	case int:
		return sv.Int(int64(t))
	case int8:
		return sv.Int(int64(t))
	case int16:
		return sv.Int(int64(t))
	case int32:
		return sv.Int(int64(t))
	case int64:
		return sv.Int(t)
	case uint:
		return sv.Int(int64(t))
	case uint8:
		return sv.Int(int64(t))
	case uint16:
		return sv.Int(int64(t))
	case uint32:
		return sv.Int(int64(t))
	case uint64:
		return sv.Int(int64(t))
	case float32:
		return sv.Float(float64(t))
	case float64:
		return sv.Float(t)
	case string:
		if sv.LooksLikeHashURL(t) {
			if h, ok := sv.ParseHashURL(t); ok {
				return sv.HashURLValue(h)
			}
		}
		return sv.String(t)
	case []byte:
		return sv.Bytes(t)
	case time.Time:
		return sv.Time(t)
	case []interface{}:
		out := make([]sv.Value, len(t))
		for i, item := range t {
			out[i] = fromNative(item)
		}
		return sv.Seq(out)
	case map[string]interface{}:
		out := make(map[string]sv.Value, len(t))
		for k, item := range t {
			out[k] = fromNative(item)
		}
		return sv.Map(out)
	case map[interface{}]interface{}:
		// gopkg.in/yaml.v2-style maps; yaml.v3 normally gives
		// map[string]interface{} for string-keyed maps, but this
		// branch keeps decode robust if a nested library ever hands
		// back the older representation.
		out := make(map[string]sv.Value, len(t))
		for k, item := range t {
			ks, _ := k.(string)
			out[ks] = fromNative(item)
		}
		return sv.Map(out)
	}
	return sv.Null()
}
