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

// DefaultRegistry builds the standard Registry used by the rest of the
// system: canonical CBOR plus the JSON, MessagePack, YAML, XML,
// JSON-Lines, and V8 extensions described in spec.md §4.1.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewCBORCodec(),
		NewJSONCodec(),
		NewMsgpackCodec(),
		NewYAMLCodec(),
		NewXMLCodec(),
		NewJSONLinesCodec(),
		NewV8Codec(),
	)
}
