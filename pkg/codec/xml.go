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
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"pigeon-optics.org/pkg/sv"
)

// XMLCodec implements the JsonML-shaped "arbitrary object" document model
// from spec.md §4.1: an <object>/<array>/<string>/<number>/<buffer>/
// <null>/<true>/<false>/<date> tag set in the pigeon-optics:arbitrary
// namespace, so any StructuredValue round-trips through XML.
//
// Built on github.com/beevik/etree rather than encoding/xml because the
// JsonML shape needs a mutable element tree (attributes added
// conditionally, children appended in a loop) that etree's API expresses
// directly, instead of encoding/xml's struct-tag-driven marshaling.
type XMLCodec struct{}

func NewXMLCodec() *XMLCodec { return &XMLCodec{} }

const arbitraryNS = "pigeon-optics:arbitrary"

func (c *XMLCodec) Name() string         { return "xml" }
func (c *XMLCodec) Handles() []string    { return []string{"application/xml", "text/xml"} }
func (c *XMLCodec) Extensions() []string { return []string{"xml"} }
func (c *XMLCodec) Canonical() bool      { return false }

func (c *XMLCodec) Encode(v sv.Value) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := valueToElement(v)
	root.CreateAttr("xmlns", arbitraryNS)
	doc.AddChild(root)
	// etree picks double quotes by default; spec calls for a
	// minority-count quoting rule, applied as a post-process pass.
	doc.Indent(0)
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("codec: xml encode: %w", err)
	}
	return quoteByMinority(b), nil
}

func valueToElement(v sv.Value) *etree.Element {
	switch v.Kind() {
	case sv.KindNull:
		return etree.NewElement("null")
	case sv.KindBool:
		if v.Bool() {
			return etree.NewElement("true")
		}
		return etree.NewElement("false")
	case sv.KindInt:
		el := etree.NewElement("number")
		el.SetText(strconv.FormatInt(v.Int(), 10))
		return el
	case sv.KindFloat:
		el := etree.NewElement("number")
		el.SetText(strconv.FormatFloat(v.Float(), 'g', -1, 64))
		return el
	case sv.KindString, sv.KindHashURL:
		el := etree.NewElement("string")
		el.SetText(v.Str())
		return el
	case sv.KindBytes:
		el := etree.NewElement("buffer")
		el.CreateAttr("encoding", "base64")
		el.SetText(base64.StdEncoding.EncodeToString(v.Bin()))
		return el
	case sv.KindTime:
		el := etree.NewElement("date")
		el.SetText(v.TimeVal().Format(time.RFC3339Nano))
		return el
	case sv.KindSeq:
		el := etree.NewElement("array")
		for _, item := range v.SeqVal() {
			el.AddChild(valueToElement(item))
		}
		return el
	case sv.KindMap:
		el := etree.NewElement("object")
		m := v.MapVal()
		for _, k := range v.SortedKeys() {
			child := valueToElement(m[k])
			child.CreateAttr("name", k)
			el.AddChild(child)
		}
		return el
	}
	return etree.NewElement("null")
}

func (c *XMLCodec) Decode(b []byte) (sv.Value, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return sv.Value{}, fmt.Errorf("codec: xml decode: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return sv.Value{}, fmt.Errorf("codec: xml decode: empty document")
	}
	return elementToValue(root)
}

func elementToValue(el *etree.Element) (sv.Value, error) {
	switch el.Tag {
	case "null":
		return sv.Null(), nil
	case "true":
		return sv.Bool(true), nil
	case "false":
		return sv.Bool(false), nil
	case "number":
		text := el.Text()
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return sv.Int(i), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return sv.Value{}, fmt.Errorf("codec: xml decode: bad <number> %q: %w", text, err)
		}
		return sv.Float(f), nil
	case "string":
		s := el.Text()
		if sv.LooksLikeHashURL(s) {
			if h, ok := sv.ParseHashURL(s); ok {
				return sv.HashURLValue(h), nil
			}
		}
		return sv.String(s), nil
	case "buffer":
		enc := el.SelectAttrValue("encoding", "base64")
		if enc != "base64" {
			return sv.Value{}, fmt.Errorf("codec: xml decode: unsupported <buffer encoding=%q>", enc)
		}
		data, err := base64.StdEncoding.DecodeString(el.Text())
		if err != nil {
			return sv.Value{}, fmt.Errorf("codec: xml decode: bad <buffer> base64: %w", err)
		}
		return sv.Bytes(data), nil
	case "date":
		t, err := time.Parse(time.RFC3339Nano, el.Text())
		if err != nil {
			return sv.Value{}, fmt.Errorf("codec: xml decode: bad <date> %q: %w", el.Text(), err)
		}
		return sv.Time(t), nil
	case "array":
		var items []sv.Value
		for _, child := range el.ChildElements() {
			v, err := elementToValue(child)
			if err != nil {
				return sv.Value{}, err
			}
			items = append(items, v)
		}
		return sv.Seq(items), nil
	case "object":
		out := make(map[string]sv.Value)
		for _, child := range el.ChildElements() {
			name := child.SelectAttrValue("name", "")
			v, err := elementToValue(child)
			if err != nil {
				return sv.Value{}, err
			}
			out[name] = v
		}
		return sv.Map(out), nil
	}
	return sv.Value{}, fmt.Errorf("codec: xml decode: unrecognised tag <%s>", el.Tag)
}

// quoteByMinority rewrites attribute quoting to use whichever of ' or "
// appears less often in the serialized document, per spec.md §4.1's
// quoting rule. etree always emits double-quoted attributes; this scans
// the text content (which can't itself contain an unescaped quote
// character after XML-escaping) to decide, then flips double-quoted
// attribute delimiters to single quotes when singles are the minority
// pick.
func quoteByMinority(doc []byte) []byte {
	var singles, doubles int
	for _, b := range doc {
		switch b {
		case '\'':
			singles++
		case '"':
			doubles++
		}
	}
	if doubles <= singles {
		return doc
	}
	// Only flip the quotes that delimit attribute values (="..."),
	// never text content, which has already had its quote characters
	// escaped to &apos;/&quot; by etree and is left untouched.
	out := make([]byte, 0, len(doc))
	i := 0
	for i < len(doc) {
		if doc[i] == '=' && i+1 < len(doc) && doc[i+1] == '"' {
			end := strings.IndexByte(string(doc[i+2:]), '"')
			if end >= 0 {
				out = append(out, '=', '\'')
				out = append(out, doc[i+2:i+2+end]...)
				out = append(out, '\'')
				i += 2 + end + 1
				continue
			}
		}
		out = append(out, doc[i])
		i++
	}
	return out
}
