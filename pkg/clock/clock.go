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

// Package clock defines the Clock collaborator the core consumes for
// timestamps (spec.md §1 "The core consumes only... a Clock"), so tests
// can substitute deterministic time without the storage layers importing
// "time" directly at every call site.
package clock

import "time"

// Clock returns the current time. Implementations must be safe for
// concurrent use.
type Clock interface {
	Now() time.Time
}

// System is the real wall-clock Clock used in production.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// NowMillis is a convenience matching spec.md's DatasetMeta.created/updated
// fields, which are specified in milliseconds since epoch.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
