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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/sv"
)

// GojaSandbox is the default Sandbox: it runs the map function source
// through github.com/dop251/goja, the same pure-Go ECMAScript VM
// pkg/codec's V8Codec evaluates "V8 object encoding" literals with.
// Production deployments are expected to supply a more tightly walled
// Sandbox (spec.md §1 names sandboxing as an external collaborator);
// this one is what the CLI uses out of the box. The package's tests use
// a fake Sandbox instead.
type GojaSandbox struct {
	// Timeout bounds one Invoke call's wall-clock time; zero disables
	// the bound.
	Timeout time.Duration
}

func NewGojaSandbox(timeout time.Duration) *GojaSandbox {
	return &GojaSandbox{Timeout: timeout}
}

func (g *GojaSandbox) Invoke(ctx context.Context, code, recordID string, value sv.Value, deps DependencyReader) (SandboxResult, error) {
	vm := goja.New()

	var logs []string
	vm.Set("console", map[string]interface{}{
		"log": func(args ...interface{}) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprint(a)
			}
			logs = append(logs, strings.Join(parts, " "))
		},
	})

	vm.Set("readDependency", func(path, id string) interface{} {
		v, ok, err := deps.Read(path, id)
		if err != nil {
			panic(err)
		}
		if !ok {
			return nil
		}
		return codec.ToNative(v)
	})
	vm.Set("__value", codec.ToNative(value))

	done := make(chan struct{})
	defer close(done)
	if g.Timeout > 0 || ctx != nil {
		go func() {
			var timeout <-chan time.Time
			if g.Timeout > 0 {
				timer := time.NewTimer(g.Timeout)
				defer timer.Stop()
				timeout = timer.C
			}
			var ctxDone <-chan struct{}
			if ctx != nil {
				ctxDone = ctx.Done()
			}
			select {
			case <-timeout:
				vm.Interrupt("lens map function exceeded its time limit")
			case <-ctxDone:
				vm.Interrupt("lens build canceled")
			case <-done:
			}
		}()
	}

	src := "(" + code + ")(" + strconv.Quote(recordID) + ", __value, readDependency)"
	result, err := vm.RunString(src)
	if err != nil {
		return SandboxResult{Logs: logs}, faultFrom(err)
	}

	entries, err := parseEntries(result.Export())
	if err != nil {
		return SandboxResult{Logs: logs}, &Fault{Message: err.Error()}
	}
	return SandboxResult{Entries: entries, Logs: logs}, nil
}

func faultFrom(err error) *Fault {
	if exc, ok := err.(*goja.Exception); ok {
		return &Fault{Message: exc.Value().String(), Stack: exc.String()}
	}
	return &Fault{Message: err.Error()}
}

// parseEntries interprets a map function's return value as a list of
// [outputID, outputValue] pairs, per spec.md §4.10 step 3.
func parseEntries(exported interface{}) ([]SandboxEntry, error) {
	if exported == nil {
		return nil, nil
	}
	list, ok := exported.([]interface{})
	if !ok {
		return nil, fmt.Errorf("lens: map function must return an array of [id, value] entries, got %T", exported)
	}
	entries := make([]SandboxEntry, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("lens: each emitted entry must be a [id, value] pair")
		}
		id, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("lens: entry id must be a string")
		}
		entries = append(entries, SandboxEntry{ID: id, Value: codec.FromNative(pair[1])})
	}
	return entries, nil
}
