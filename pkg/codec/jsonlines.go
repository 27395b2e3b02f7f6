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
	"bufio"
	"bytes"
	"fmt"

	"pigeon-optics.org/pkg/sv"
)

// JSONLinesCodec is the export-oriented streaming format described in
// spec.md §4.1: one JSON document per line. Encode/Decode operate on a
// KindSeq whose elements are the per-line documents (typically
// [recordID, value] pairs produced by the dataset iterate/export path).
type JSONLinesCodec struct {
	inner *JSONCodec
}

func NewJSONLinesCodec() *JSONLinesCodec {
	return &JSONLinesCodec{inner: NewJSONCodec()}
}

func (c *JSONLinesCodec) Name() string         { return "jsonlines" }
func (c *JSONLinesCodec) Handles() []string    { return []string{"application/jsonlines", "application/x-ndjson", "application/jsonl"} }
func (c *JSONLinesCodec) Extensions() []string { return []string{"jsonl", "ndjson", "jsonlines"} }
func (c *JSONLinesCodec) Canonical() bool      { return false }

func (c *JSONLinesCodec) Encode(v sv.Value) ([]byte, error) {
	if v.Kind() != sv.KindSeq {
		return nil, fmt.Errorf("codec: jsonlines encode requires a sequence of records, got %v", v.Kind())
	}
	var buf bytes.Buffer
	for _, item := range v.SeqVal() {
		line, err := c.inner.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("codec: jsonlines encode: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (c *JSONLinesCodec) Decode(b []byte) (sv.Value, error) {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var items []sv.Value
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		v, err := c.inner.Decode(line)
		if err != nil {
			return sv.Value{}, fmt.Errorf("codec: jsonlines decode: %w", err)
		}
		items = append(items, v)
	}
	if err := scanner.Err(); err != nil {
		return sv.Value{}, fmt.Errorf("codec: jsonlines decode: %w", err)
	}
	return sv.Seq(items), nil
}

// EntriesEncoder returns a streaming encoder that writes one JSON line per
// call to Write, used by the export path (C8) so a whole dataset need not
// be buffered in memory as one giant sequence before encoding.
func (c *JSONLinesCodec) EntriesEncoder(w interface{ Write([]byte) (int, error) }) func(id string, v sv.Value) error {
	return func(id string, v sv.Value) error {
		entry := sv.Seq([]sv.Value{sv.String(id), v})
		line, err := c.inner.Encode(entry)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
		return nil
	}
}
