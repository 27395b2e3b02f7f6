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
	"testing"
	"time"

	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/dataset"
	"pigeon-optics.org/pkg/dspath"
	"pigeon-optics.org/pkg/eventbus"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/readpath"
	"pigeon-optics.org/pkg/sv"
)

type fixedClock time.Time

func (f fixedClock) Now() time.Time { return time.Time(f) }

type alwaysHasAttachments struct{}

func (alwaysHasAttachments) Has(hashref.Hash) bool { return true }

type fakeSandbox struct {
	invoke func(ctx context.Context, code, recordID string, value sv.Value, deps DependencyReader) (SandboxResult, error)
}

func (f fakeSandbox) Invoke(ctx context.Context, code, recordID string, value sv.Value, deps DependencyReader) (SandboxResult, error) {
	return f.invoke(ctx, code, recordID, value, deps)
}

// doubleSandbox emits one "<recordID>-out" record holding the input's
// "n" field doubled, for every invocation.
func doubleSandbox() fakeSandbox {
	return fakeSandbox{invoke: func(_ context.Context, _ string, recordID string, value sv.Value, _ DependencyReader) (SandboxResult, error) {
		n := value.MapVal()["n"].Int()
		return SandboxResult{Entries: []SandboxEntry{{ID: recordID + "-out", Value: sv.Int(n * 2)}}}, nil
	}}
}

type fixtures struct {
	datasets *dataset.Store
	lenses   *dataset.Store
	resolver *readpath.Store
	files    *filestore.Store
	bus      *eventbus.Bus
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	root := t.TempDir()
	files, err := filestore.New(root, codec.DefaultRegistry(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	bus := eventbus.New(nil)
	clk := fixedClock(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	datasets := dataset.New(dspath.SourceDatasets, root, files, codec.DefaultRegistry(), alwaysHasAttachments{}, bus, clk, dataset.NopValidator{}, false, nil)
	lenses := dataset.New(dspath.SourceLenses, root, files, codec.DefaultRegistry(), alwaysHasAttachments{}, bus, clk, Validator{}, false, nil)
	resolver := readpath.New(datasets, lenses, files, nil)
	return &fixtures{datasets: datasets, lenses: lenses, resolver: resolver, files: files, bus: bus}
}

func newEngine(f *fixtures, sandbox Sandbox) *Engine {
	return New(f.lenses, f.datasets, f.resolver, f.files, f.bus, sandbox, nil)
}

func TestBuildMapsNewRecords(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create dataset: %v", err)
	}
	if _, err := f.datasets.Write("alice", "songs", "r1", sv.Map(map[string]sv.Value{"n": sv.Int(21)})); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cfg := Config{Code: "double", Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	if err := f.lenses.Create("alice", "doubler", configToValue(cfg)); err != nil {
		t.Fatalf("Create lens: %v", err)
	}

	e := newEngine(f, doubleSandbox())
	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	v, ok, err := f.lenses.Read("alice", "doubler", "r1-out")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("expected the lens to have produced r1-out")
	}
	if v.Int() != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestBuildIsNoOpWhenNothingChanged(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create dataset: %v", err)
	}
	if _, err := f.datasets.Write("alice", "songs", "r1", sv.Map(map[string]sv.Value{"n": sv.Int(1)})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg := Config{Code: "double", Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	if err := f.lenses.Create("alice", "doubler", configToValue(cfg)); err != nil {
		t.Fatalf("Create lens: %v", err)
	}

	e := newEngine(f, doubleSandbox())
	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	before, err := f.lenses.ReadMeta("alice", "doubler")
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}

	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	after, err := f.lenses.ReadMeta("alice", "doubler")
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if after.Version != before.Version {
		t.Fatalf("expected a no-op rebuild to leave the lens version at %d, got %d", before.Version, after.Version)
	}
}

func TestBuildRemovesOutputWhenInputRecordDisappears(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create dataset: %v", err)
	}
	if _, err := f.datasets.Write("alice", "songs", "r1", sv.Map(map[string]sv.Value{"n": sv.Int(1)})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg := Config{Code: "double", Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	if err := f.lenses.Create("alice", "doubler", configToValue(cfg)); err != nil {
		t.Fatalf("Create lens: %v", err)
	}
	e := newEngine(f, doubleSandbox())
	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if _, ok, err := f.lenses.Read("alice", "doubler", "r1-out"); err != nil || !ok {
		t.Fatalf("expected r1-out to exist before deletion: ok=%v err=%v", ok, err)
	}

	if _, err := f.datasets.DeleteRecord("alice", "songs", "r1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("second Build: %v", err)
	}

	_, ok, err := f.lenses.Read("alice", "doubler", "r1-out")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatal("expected r1-out to be removed once its producing input record disappeared")
	}
}

func TestBuildLogsFaultsToSideFile(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create dataset: %v", err)
	}
	if _, err := f.datasets.Write("alice", "songs", "r1", sv.Map(map[string]sv.Value{"n": sv.Int(1)})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg := Config{Code: "fault", Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	if err := f.lenses.Create("alice", "faulty", configToValue(cfg)); err != nil {
		t.Fatalf("Create lens: %v", err)
	}

	faulting := fakeSandbox{invoke: func(context.Context, string, string, sv.Value, DependencyReader) (SandboxResult, error) {
		return SandboxResult{}, &Fault{Message: "boom", Stack: "at line 1"}
	}}
	e := newEngine(f, faulting)
	if err := e.Build(context.Background(), "alice", "faulty"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	v, ok, err := f.files.Read(buildLogPath("alice", "faulty"))
	if err != nil {
		t.Fatalf("Read build log: %v", err)
	}
	if !ok {
		t.Fatal("expected a build log side file to have been written after a fault")
	}
	entry, ok := v.MapVal()[dspath.Encode(dspath.SourceDatasets, "alice", "songs")+"#r1"]
	if !ok {
		t.Fatalf("build log %v missing the faulted input's entry", v)
	}
	if entry.MapVal()["error"].Str() != "boom" {
		t.Fatalf("build log entry = %v, want error=boom", entry)
	}
}

func TestBuildLeavesLensUntouchedWhenDatasetAbsent(t *testing.T) {
	f := newFixtures(t)
	cfg := Config{Code: "double", Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "ghost")}}
	if err := f.lenses.Create("alice", "doubler", configToValue(cfg)); err != nil {
		t.Fatalf("Create lens: %v", err)
	}
	e := newEngine(f, doubleSandbox())
	if err := e.Build(context.Background(), "alice", "doubler"); err != nil {
		t.Fatalf("Build against a nonexistent input dataset should not itself fail: %v", err)
	}
}

func TestDependencyReaderRejectsUndeclaredPath(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.datasets.Write("alice", "songs", "r1", sv.Int(1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.datasets.Create("alice", "secrets", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.datasets.Write("alice", "secrets", "s1", sv.Int(1)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	e := newEngine(f, doubleSandbox())
	cfg := Config{Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	dr := &dependencyReader{engine: e, allowed: allowedPaths(cfg)}

	if _, _, err := dr.Read(dspath.Encode(dspath.SourceDatasets, "alice", "songs"), "r1"); err != nil {
		t.Fatalf("Read of a declared input should succeed: %v", err)
	}
	if _, _, err := dr.Read(dspath.Encode(dspath.SourceDatasets, "alice", "secrets"), "s1"); err == nil {
		t.Fatal("expected Read of an undeclared dataset to be rejected")
	}
}

func TestDependencyReaderMissingRecordIsNotOkNoError(t *testing.T) {
	f := newFixtures(t)
	if err := f.datasets.Create("alice", "songs", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	e := newEngine(f, doubleSandbox())
	cfg := Config{Inputs: []string{dspath.Encode(dspath.SourceDatasets, "alice", "songs")}}
	dr := &dependencyReader{engine: e, allowed: allowedPaths(cfg)}

	_, ok, err := dr.Read(dspath.Encode(dspath.SourceDatasets, "alice", "songs"), "ghost")
	if err != nil {
		t.Fatalf("Read of a missing record should not itself error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a record that was never written")
	}
}

func TestConfigValueRoundTrip(t *testing.T) {
	cfg := Config{
		Code:         "map fn",
		Inputs:       []string{"a", "b"},
		Dependencies: []string{"c"},
		Memo:         true,
	}
	got, err := configFromValue(configToValue(cfg))
	if err != nil {
		t.Fatalf("configFromValue: %v", err)
	}
	if got.Code != cfg.Code || got.Memo != cfg.Memo || len(got.Inputs) != 2 || len(got.Dependencies) != 1 {
		t.Fatalf("got %+v, want %+v", got, cfg)
	}
}

func TestEngineStateValueRoundTrip(t *testing.T) {
	s := engineState{
		LastProcessedVersion: map[string]int64{"a": 3},
		LastHashes:           map[string]map[string]string{"a": {"r1": "deadbeef"}},
		ReverseIndex:         map[string]map[string]bool{"out1": {"a#r1": true}},
	}
	config := map[string]sv.Value{"__engine": stateToValue(s)}
	got, err := stateFromValue(config)
	if err != nil {
		t.Fatalf("stateFromValue: %v", err)
	}
	if got.LastProcessedVersion["a"] != 3 {
		t.Fatalf("LastProcessedVersion = %v", got.LastProcessedVersion)
	}
	if got.LastHashes["a"]["r1"] != "deadbeef" {
		t.Fatalf("LastHashes = %v", got.LastHashes)
	}
	if !got.ReverseIndex["out1"]["a#r1"] {
		t.Fatalf("ReverseIndex = %v", got.ReverseIndex)
	}
}

func TestValidatorRejectsMissingCodeOrInputs(t *testing.T) {
	v := Validator{}
	if err := v.ValidateConfig(dataset.DatasetMeta{Config: map[string]sv.Value{}}); err == nil {
		t.Fatal("expected an error for a config with no code and no inputs")
	}
	ok := map[string]sv.Value{
		"code":   sv.String("fn"),
		"inputs": sv.Seq([]sv.Value{sv.String("x")}),
	}
	if err := v.ValidateConfig(dataset.DatasetMeta{Config: ok}); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}

func TestCanonicalRootAndSplitLensKey(t *testing.T) {
	root, err := canonicalRoot(dspath.Encode(dspath.SourceDatasets, "alice", "songs", "r1"))
	if err != nil {
		t.Fatalf("canonicalRoot: %v", err)
	}
	if root != "datasets/alice/songs" {
		t.Fatalf("root = %q, want datasets/alice/songs", root)
	}

	user, name, ok := splitLensKey("alice/doubler")
	if !ok || user != "alice" || name != "doubler" {
		t.Fatalf("splitLensKey = %q, %q, %v", user, name, ok)
	}
	if _, _, ok := splitLensKey("no-slash"); ok {
		t.Fatal("expected splitLensKey to fail on a key with no slash")
	}
}
