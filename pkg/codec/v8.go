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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"pigeon-optics.org/pkg/sv"
)

// V8Codec encodes StructuredValues as ECMAScript object-literal source
// text and decodes by evaluating that source in a throwaway VM, giving
// the "V8 object encoding" spec.md §4.1 calls for without depending on
// Node's binary v8.serialize wire format (which has no maintained Go
// port in this ecosystem). github.com/dop251/goja is a pure-Go
// ECMAScript 5.1+ VM, so encode/decode both go through a real engine
// rather than a hand-rolled JS-literal pretty-printer.
type V8Codec struct{}

func NewV8Codec() *V8Codec { return &V8Codec{} }

func (c *V8Codec) Name() string         { return "v8" }
func (c *V8Codec) Handles() []string    { return []string{"application/x-v8-object"} }
func (c *V8Codec) Extensions() []string { return []string{"v8"} }
func (c *V8Codec) Canonical() bool      { return false }

func (c *V8Codec) Encode(v sv.Value) ([]byte, error) {
	var b strings.Builder
	writeJSLiteral(&b, v)
	src := b.String()

	// Validate round-trip through an actual VM rather than trusting the
	// string builder: a malformed literal (e.g. a key needing escaping
	// we missed) fails here instead of surfacing as a decode error for
	// someone else later.
	vm := goja.New()
	if _, err := vm.RunString("(" + src + ")"); err != nil {
		return nil, fmt.Errorf("codec: v8 encode produced invalid literal: %w", err)
	}
	return []byte(src), nil
}

func (c *V8Codec) Decode(b []byte) (sv.Value, error) {
	vm := goja.New()
	val, err := vm.RunString("(" + string(b) + ")")
	if err != nil {
		return sv.Value{}, fmt.Errorf("codec: v8 decode: %w", err)
	}
	return fromNative(val.Export()), nil
}

func writeJSLiteral(b *strings.Builder, v sv.Value) {
	switch v.Kind() {
	case sv.KindNull:
		b.WriteString("null")
	case sv.KindBool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case sv.KindInt:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case sv.KindFloat:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case sv.KindString, sv.KindHashURL:
		b.WriteString(strconv.Quote(v.Str()))
	case sv.KindBytes:
		// No native byte-string literal in JS source; represent as a
		// Uint8Array constructor call, which goja.Export() turns back
		// into a []byte-compatible array of numbers on decode.
		b.WriteString("new Uint8Array([")
		for i, byt := range v.Bin() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(byt)))
		}
		b.WriteString("])")
	case sv.KindTime:
		b.WriteString("new Date(")
		b.WriteString(strconv.Quote(v.TimeVal().Format(time.RFC3339Nano)))
		b.WriteString(")")
	case sv.KindSeq:
		b.WriteByte('[')
		for i, item := range v.SeqVal() {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSLiteral(b, item)
		}
		b.WriteByte(']')
	case sv.KindMap:
		b.WriteByte('{')
		m := v.MapVal()
		for i, k := range v.SortedKeys() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeJSLiteral(b, m[k])
		}
		b.WriteByte('}')
	}
}
