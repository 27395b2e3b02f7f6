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
	"strings"
	"testing"

	"pigeon-optics.org/pkg/sv"
)

func TestJSONLinesRoundTrip(t *testing.T) {
	c := NewJSONLinesCodec()
	v := sv.Seq([]sv.Value{
		sv.Seq([]sv.Value{sv.String("rec-1"), sv.Map(map[string]sv.Value{"n": sv.Int(1)})}),
		sv.Seq([]sv.Value{sv.String("rec-2"), sv.Map(map[string]sv.Value{"n": sv.Int(2)})}),
	})
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(string(b), "\n") != 2 {
		t.Fatalf("expected one line per record, got:\n%s", b)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(v) {
		t.Fatalf("round trip mismatch: got %s, want %s", got, v)
	}
}

func TestJSONLinesDecodeSkipsBlankLines(t *testing.T) {
	c := NewJSONLinesCodec()
	input := []byte("{\"a\":1}\n\n  \n{\"a\":2}\n")
	got, err := c.Decode(input)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.SeqVal()) != 2 {
		t.Fatalf("expected 2 decoded records, got %d", len(got.SeqVal()))
	}
}

func TestJSONLinesEncodeRejectsNonSequence(t *testing.T) {
	c := NewJSONLinesCodec()
	if _, err := c.Encode(sv.Map(map[string]sv.Value{"a": sv.Int(1)})); err == nil {
		t.Fatal("expected an error encoding a non-sequence value")
	}
}

func TestJSONLinesEntriesEncoderMatchesDecode(t *testing.T) {
	c := NewJSONLinesCodec()
	var buf bytes.Buffer
	write := c.EntriesEncoder(&buf)
	if err := write("rec-1", sv.Int(1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := write("rec-2", sv.Int(2)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := c.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := sv.Seq([]sv.Value{
		sv.Seq([]sv.Value{sv.String("rec-1"), sv.Int(1)}),
		sv.Seq([]sv.Value{sv.String("rec-2"), sv.Int(2)}),
	})
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}
