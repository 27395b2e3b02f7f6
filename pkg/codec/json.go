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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/sv"
)

// JSONCodec implements the JSON extension described in spec.md §4.1:
// binary values round-trip through a recognised wrapper object rather
// than JSON's native (byte-string-less) type system.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Name() string         { return "json" }
func (c *JSONCodec) Handles() []string    { return []string{"application/json", "text/json"} }
func (c *JSONCodec) Extensions() []string { return []string{"json"} }
func (c *JSONCodec) Canonical() bool      { return false }

// jsonBuffer is the recognised wrapper for binary data, matching the
// Node.js Buffer.toJSON() shape so clients already speaking that
// convention decode losslessly.
type jsonBuffer struct {
	Type string `json:"type"`
	Data []int  `json:"data"` // array-of-byte-values form, matching Node's Buffer.toJSON()
}

func newJSONBuffer(b []byte) jsonBuffer {
	data := make([]int, len(b))
	for i, c := range b {
		data[i] = int(c)
	}
	return jsonBuffer{Type: "Buffer", Data: data}
}

type jsonDate struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *JSONCodec) Encode(v sv.Value) ([]byte, error) {
	native := toJSONNative(v)
	b, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return b, nil
}

func toJSONNative(v sv.Value) interface{} {
	switch v.Kind() {
	case sv.KindBytes:
		return newJSONBuffer(v.Bin())
	case sv.KindTime:
		return jsonDate{Type: "Date", Value: v.TimeVal().Format(time.RFC3339Nano)}
	case sv.KindSeq:
		items := v.SeqVal()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = toJSONNative(item)
		}
		return out
	case sv.KindMap:
		m := v.MapVal()
		out := make(map[string]interface{}, len(m))
		for _, k := range v.SortedKeys() {
			out[k] = toJSONNative(m[k])
		}
		return out
	default:
		return toNative(v)
	}
}

func (c *JSONCodec) Decode(b []byte) (sv.Value, error) {
	var native interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&native); err != nil {
		return sv.Value{}, pkgerr.CodecErrorf(err, "codec: json decode")
	}
	return jsonFromNative(native)
}

func jsonFromNative(x interface{}) (sv.Value, error) {
	switch t := x.(type) {
	case nil:
		return sv.Null(), nil
	case bool:
		return sv.Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return sv.Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return sv.Value{}, fmt.Errorf("codec: json number %q: %w", t, err)
		}
		return sv.Float(f), nil
	case string:
		if sv.LooksLikeHashURL(t) {
			if h, ok := sv.ParseHashURL(t); ok {
				return sv.HashURLValue(h), nil
			}
		}
		return sv.String(t), nil
	case []interface{}:
		out := make([]sv.Value, len(t))
		for i, item := range t {
			cv, err := jsonFromNative(item)
			if err != nil {
				return sv.Value{}, err
			}
			out[i] = cv
		}
		return sv.Seq(out), nil
	case map[string]interface{}:
		if wrapped, ok := asBufferWrapper(t); ok {
			return wrapped, nil
		}
		if wrapped, ok := asDateWrapper(t); ok {
			return wrapped, nil
		}
		out := make(map[string]sv.Value, len(t))
		for k, item := range t {
			cv, err := jsonFromNative(item)
			if err != nil {
				return sv.Value{}, err
			}
			out[k] = cv
		}
		return sv.Map(out), nil
	}
	return sv.Value{}, fmt.Errorf("codec: json decode: unsupported native type %T", x)
}

func asBufferWrapper(m map[string]interface{}) (sv.Value, bool) {
	typ, _ := m["type"].(string)
	if typ != "Buffer" {
		return sv.Value{}, false
	}
	switch data := m["data"].(type) {
	case string:
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return sv.Value{}, false
		}
		return sv.Bytes(b), true
	case []interface{}:
		b := make([]byte, len(data))
		for i, n := range data {
			num, ok := n.(json.Number)
			if !ok {
				return sv.Value{}, false
			}
			iv, err := num.Int64()
			if err != nil || iv < 0 || iv > 255 {
				return sv.Value{}, false
			}
			b[i] = byte(iv)
		}
		return sv.Bytes(b), true
	}
	return sv.Value{}, false
}

func asDateWrapper(m map[string]interface{}) (sv.Value, bool) {
	typ, _ := m["type"].(string)
	if typ != "Date" {
		return sv.Value{}, false
	}
	s, _ := m["value"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return sv.Value{}, false
	}
	return sv.Time(t), true
}
