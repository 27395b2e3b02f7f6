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

	"gopkg.in/yaml.v3"

	"pigeon-optics.org/pkg/sv"
)

// YAMLCodec follows YAML's native conventions (spec.md §4.1): not
// canonical. Binary values are left to yaml.v3's own !!binary tag
// (base64 scalar), and timestamps to its !!timestamp tag.
type YAMLCodec struct{}

func NewYAMLCodec() *YAMLCodec { return &YAMLCodec{} }

func (c *YAMLCodec) Name() string         { return "yaml" }
func (c *YAMLCodec) Handles() []string    { return []string{"application/yaml", "text/yaml"} }
func (c *YAMLCodec) Extensions() []string { return []string{"yaml", "yml"} }
func (c *YAMLCodec) Canonical() bool      { return false }

func (c *YAMLCodec) Encode(v sv.Value) ([]byte, error) {
	b, err := yaml.Marshal(toNative(v))
	if err != nil {
		return nil, fmt.Errorf("codec: yaml encode: %w", err)
	}
	return b, nil
}

func (c *YAMLCodec) Decode(b []byte) (sv.Value, error) {
	var native interface{}
	if err := yaml.Unmarshal(b, &native); err != nil {
		return sv.Value{}, fmt.Errorf("codec: yaml decode: %w", err)
	}
	return fromNative(normalizeYAML(native)), nil
}

// normalizeYAML rewrites the map[interface{}]interface{} nodes yaml.v3
// hands back for mappings whose keys aren't all strings, since
// StructuredValue mappings are string-keyed only. yaml.v3 itself already
// produces map[string]interface{} for ordinary string-keyed mappings, so
// this mostly matters for defense against unusual input documents.
func normalizeYAML(x interface{}) interface{} {
	switch t := x.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = normalizeYAML(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			out[i] = normalizeYAML(v)
		}
		return out
	default:
		return x
	}
}
