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

// Package pkgconfig defines a helper type for JSON configuration
// objects, adapted from Perkeep's pkg/jsonconfig: the CLI reads the data
// root, the paranoid object-store flag, and the lens sandbox wall-clock
// limit through an Obj rather than a bespoke struct with
// its own flag parsing, so a deployment's config file and a test's
// inline literal go through the same validation path.
package pkgconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Obj is a JSON configuration map. Every accessor records which key it
// read; Validate then flags any key nobody asked for, catching typos in
// a config file the same way an unknown field would.
type Obj map[string]interface{}

// ReadFile reads and parses a JSON config file into an Obj.
func ReadFile(path string) (Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pkgconfig: reading %s: %w", path, err)
	}
	var obj Obj
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("pkgconfig: parsing %s: %w", path, err)
	}
	return obj, nil
}

func (o Obj) noteKnownKey(key string) {
	known, _ := o["_knownkeys"].(map[string]bool)
	if known == nil {
		known = make(map[string]bool)
		o["_knownkeys"] = known
	}
	known[key] = true
}

func (o Obj) appendError(err error) {
	if existing, ok := o["_errors"].([]error); ok {
		o["_errors"] = append(existing, err)
	} else {
		o["_errors"] = []error{err}
	}
}

// RequiredObject returns the Obj at key, or records an error if absent.
func (o Obj) RequiredObject(key string) Obj { return o.obj(key, false) }

// OptionalObject returns the Obj at key, or an empty Obj if absent.
func (o Obj) OptionalObject(key string) Obj { return o.obj(key, true) }

func (o Obj) obj(key string, optional bool) Obj {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if optional {
			return make(Obj)
		}
		o.appendError(fmt.Errorf("pkgconfig: missing required key %q (object)", key))
		return make(Obj)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		o.appendError(fmt.Errorf("pkgconfig: key %q should be an object, got %T", key, v))
		return make(Obj)
	}
	return Obj(m)
}

// RequiredString returns the string at key, or records an error if absent.
func (o Obj) RequiredString(key string) string { return o.str(key, nil) }

// OptionalString returns the string at key, or def if absent.
func (o Obj) OptionalString(key, def string) string { return o.str(key, &def) }

func (o Obj) str(key string, def *string) string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("pkgconfig: missing required key %q (string)", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("pkgconfig: key %q should be a string, got %T", key, v))
		return ""
	}
	return s
}

// RequiredBool returns the bool at key, or records an error if absent.
func (o Obj) RequiredBool(key string) bool { return o.bool(key, nil) }

// OptionalBool returns the bool at key, or def if absent.
func (o Obj) OptionalBool(key string, def bool) bool { return o.bool(key, &def) }

func (o Obj) bool(key string, def *bool) bool {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("pkgconfig: missing required key %q (bool)", key))
		return false
	}
	b, ok := v.(bool)
	if !ok {
		o.appendError(fmt.Errorf("pkgconfig: key %q should be a bool, got %T", key, v))
		return false
	}
	return b
}

// RequiredInt returns the int at key, or records an error if absent.
func (o Obj) RequiredInt(key string) int { return o.int(key, nil) }

// OptionalInt returns the int at key, or def if absent.
func (o Obj) OptionalInt(key string, def int) int { return o.int(key, &def) }

func (o Obj) int(key string, def *int) int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("pkgconfig: missing required key %q (number)", key))
		return 0
	}
	n, ok := v.(float64)
	if !ok {
		o.appendError(fmt.Errorf("pkgconfig: key %q should be a number, got %T", key, v))
		return 0
	}
	return int(n)
}

// OptionalList returns the list of strings at key, or nil if absent.
func (o Obj) OptionalList(key string) []string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		o.appendError(fmt.Errorf("pkgconfig: key %q should be a list, got %T", key, v))
		return nil
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			o.appendError(fmt.Errorf("pkgconfig: key %q index %d should be a string, got %T", key, i, item))
			return nil
		}
		out[i] = s
	}
	return out
}

// Validate reports any key that was present but never read by one of
// the accessors above (excluding keys prefixed with "_", a convention
// for inline comments), plus every error recorded along the way.
func (o Obj) Validate() error {
	known, _ := o["_knownkeys"].(map[string]bool)
	var unknown []string
	for k := range o {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	for _, k := range unknown {
		o.appendError(fmt.Errorf("pkgconfig: unknown key %q", k))
	}

	errs, ok := o["_errors"].([]error)
	if !ok || len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("pkgconfig: multiple errors: %s", strings.Join(msgs, "; "))
}
