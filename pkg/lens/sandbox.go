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

package lens

import (
	"context"

	"pigeon-optics.org/pkg/sv"
)

// SandboxEntry is one [outputID, outputValue] pair a map function
// emitted for a single input record.
type SandboxEntry struct {
	ID    string
	Value sv.Value
}

// SandboxResult is everything one Sandbox.Invoke call produced.
type SandboxResult struct {
	Entries []SandboxEntry
	Logs    []string
}

// DependencyReader lets a map function read another dataset's record
// read-only while mapping, for lenses with "dependencies" per spec.md
// §4.10.
type DependencyReader interface {
	Read(datasetPath, recordID string) (sv.Value, bool, error)
}

// Sandbox is the externally-supplied collaborator the engine treats as
// opaque (spec.md §1, §4.10): it evaluates user-supplied map function
// source against one input record and returns emitted entries, or
// faults. The engine assumes function calls are isolated and resource-
// limited; it imposes no additional limits of its own.
type Sandbox interface {
	Invoke(ctx context.Context, code, recordID string, value sv.Value, deps DependencyReader) (SandboxResult, error)
}

// Fault is the structured form of a sandbox runtime error: a message and
// (if available) a stack trace, per spec.md's SANDBOX_ERROR(input,
// message, stack). A Sandbox implementation should return a *Fault so
// the engine can log the stack next to the message it records in the
// build log; for any other error the engine logs an empty stack.
type Fault struct {
	Message string
	Stack   string
}

func (f *Fault) Error() string { return f.Message }
