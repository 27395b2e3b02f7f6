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

	"github.com/vmihailenco/msgpack/v5"

	"pigeon-optics.org/pkg/sv"
)

// MsgpackCodec follows MessagePack's native conventions (spec.md §4.1):
// it is not canonical, and relies on msgpack's own binary/string/time
// families rather than a JSON-style wrapper object.
type MsgpackCodec struct{}

func NewMsgpackCodec() *MsgpackCodec { return &MsgpackCodec{} }

func (c *MsgpackCodec) Name() string         { return "msgpack" }
func (c *MsgpackCodec) Handles() []string    { return []string{"application/msgpack", "application/x-msgpack"} }
func (c *MsgpackCodec) Extensions() []string { return []string{"msgpack", "mp"} }
func (c *MsgpackCodec) Canonical() bool      { return false }

func (c *MsgpackCodec) Encode(v sv.Value) ([]byte, error) {
	b, err := msgpack.Marshal(toNative(v))
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack encode: %w", err)
	}
	return b, nil
}

func (c *MsgpackCodec) Decode(b []byte) (sv.Value, error) {
	var native interface{}
	if err := msgpack.Unmarshal(b, &native); err != nil {
		return sv.Value{}, fmt.Errorf("codec: msgpack decode: %w", err)
	}
	return fromNative(native), nil
}
