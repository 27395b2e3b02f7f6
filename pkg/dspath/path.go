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

// Package dspath encodes and decodes the dataset path identifiers used
// throughout the system: "pigeon-optics:/<source>/<user>:<name>[/<recordID>]".
// It plays the role camlistore.org/pkg/blob's path helpers and
// pkg/search's path-ish addressing play in Perkeep, but addresses
// datasets/records instead of blobs.
package dspath

import (
	"fmt"
	"net/url"
	"strings"
)

// Source distinguishes the two dataset families.
type Source string

const (
	SourceDatasets Source = "datasets"
	SourceLenses   Source = "lenses"
	// SourceMeta addresses the virtual system collections described in
	// spec.md §4.8 ("meta/system/system/<kind>").
	SourceMeta Source = "meta"
)

// Path identifies a dataset, or a record within one.
type Path struct {
	Source   Source
	User     string
	Name     string
	RecordID string // empty if this Path addresses the dataset itself
}

// HasRecord reports whether p addresses a specific record.
func (p Path) HasRecord() bool { return p.RecordID != "" }

// String renders p as "pigeon-optics:/<source>/<user>:<name>[/<recordID>]",
// percent-encoding each segment.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("pigeon-optics:/")
	b.WriteString(segEncode(string(p.Source)))
	b.WriteByte('/')
	b.WriteString(segEncode(p.User))
	b.WriteByte(':')
	b.WriteString(segEncode(p.Name))
	if p.RecordID != "" {
		b.WriteByte('/')
		b.WriteString(segEncode(p.RecordID))
	}
	return b.String()
}

func segEncode(s string) string {
	return url.PathEscape(s)
}

func segDecode(s string) (string, error) {
	return url.PathUnescape(s)
}

// Encode is the constructor form used by the dataset/attachment/lens
// layers: Encode("datasets", "alice", "songs", "a") or, with no recordID,
// Encode("datasets", "alice", "songs").
func Encode(source Source, user, name string, recordID ...string) string {
	p := Path{Source: source, User: user, Name: name}
	if len(recordID) > 0 {
		p.RecordID = recordID[0]
	}
	return p.String()
}

// Decode parses a path string produced by Encode/Path.String, and also
// accepts the unprefixed "<source>/<user>/<name>[/<recordID>]" form used
// internally (e.g. by event bus listeners and linker strings), which
// joins user/name with a plain slash instead of the URI's "user:name".
func Decode(s string) (Path, error) {
	s = strings.TrimPrefix(s, "pigeon-optics:/")
	s = strings.TrimPrefix(s, "/")
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return Path{}, fmt.Errorf("dspath: malformed path %q", s)
	}
	source, err := segDecode(parts[0])
	if err != nil {
		return Path{}, fmt.Errorf("dspath: bad source segment in %q: %w", s, err)
	}

	rest := parts[1:]
	var user, name string
	if strings.Contains(rest[0], ":") {
		uv := strings.SplitN(rest[0], ":", 2)
		user, err = segDecode(uv[0])
		if err != nil {
			return Path{}, err
		}
		name, err = segDecode(uv[1])
		if err != nil {
			return Path{}, err
		}
		rest = rest[1:]
	} else {
		if len(rest) < 2 {
			return Path{}, fmt.Errorf("dspath: malformed path %q", s)
		}
		user, err = segDecode(rest[0])
		if err != nil {
			return Path{}, err
		}
		name, err = segDecode(rest[1])
		if err != nil {
			return Path{}, err
		}
		rest = rest[2:]
	}

	p := Path{Source: Source(source), User: user, Name: name}
	if len(rest) > 0 && rest[0] != "" {
		rid, err := segDecode(strings.Join(rest, "/"))
		if err != nil {
			return Path{}, err
		}
		p.RecordID = rid
	}
	return p, nil
}

// LinkerPath renders the "<source>/<user>/<name>/<recordID>" form recorded
// in an AttachmentMeta's linkers set (spec.md §3, §4.7). This is distinct
// from Path.String's URI form: linkers are plain slash-joined paths, never
// percent-decoded back through Decode's colon-aware branch, matching how
// the original system records them.
func LinkerPath(source Source, user, name, recordID string) string {
	return strings.Join([]string{string(source), user, name, recordID}, "/")
}

// DatasetRoot renders "<source>/<user>/<name>" with no recordID, the form
// used to key DatasetMeta in pkg/filestore and to identify a pathUpdated
// event subject.
func DatasetRoot(source Source, user, name string) string {
	return strings.Join([]string{string(source), user, name}, "/")
}
