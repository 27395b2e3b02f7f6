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

// Package lens implements spec.md C10, the derivation engine: change-
// driven re-evaluation of a sandboxed map function over one or more
// input datasets, writing the results into a lens's own dataset via the
// same pkg/dataset.Store a regular dataset uses. It plays the role
// Perkeep's pkg/importer plays for its importers — an engine that reacts
// to upstream change and writes derived data back through the ordinary
// storage path — narrowed to this system's single map-function-per-lens
// shape and its stricter at-most-once-per-version bookkeeping.
package lens

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pigeon-optics.org/pkg/dataset"
	"pigeon-optics.org/pkg/dspath"
	"pigeon-optics.org/pkg/eventbus"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/pkgerr"
	"pigeon-optics.org/pkg/readpath"
	"pigeon-optics.org/pkg/sv"
)

// Config is a lens's declaration, spec.md §4.10's
// {code, inputs, dependencies, memo}.
type Config struct {
	Code         string
	Inputs       []string
	Dependencies []string
	// Memo is accepted and persisted but currently a no-op beyond what
	// the engine already does: a record is only ever re-mapped when its
	// content hash changes between builds, which is memoization by
	// construction. The field exists so a future sandbox-result cache
	// (keyed by input hash, shared across lenses with identical code)
	// has somewhere to read its on/off switch from.
	Memo bool
}

// Validator is the dataset.Validator a lens's Store is constructed
// with: it requires a lens's config to declare map function source and
// at least one input; lens records (the derived output) are never
// hand-validated beyond that, since they're whatever shape the map
// function emits.
type Validator struct{}

func (Validator) ValidateConfig(meta dataset.DatasetMeta) error {
	code, ok := meta.Config["code"]
	if !ok || code.Kind() != sv.KindString || code.Str() == "" {
		return pkgerr.ValidationFailedf("lens: config requires non-empty %q", "code")
	}
	inputs, ok := meta.Config["inputs"]
	if !ok || inputs.Kind() != sv.KindSeq || len(inputs.SeqVal()) == 0 {
		return pkgerr.ValidationFailedf("lens: config requires at least one input")
	}
	return nil
}

func (Validator) ValidateRecord(string, sv.Value) error { return nil }

type lensState struct {
	mu      sync.Mutex
	running bool
	dirty   bool
}

// Engine runs builds for every lens in sources[dspath.SourceLenses] and
// reacts to pathUpdated events for the datasets those lenses declare as
// inputs.
type Engine struct {
	lenses   *dataset.Store
	sources  map[dspath.Source]*dataset.Store
	resolver *readpath.Store
	bus      *eventbus.Bus
	sandbox  Sandbox
	// files is the same filestore.Store the dataset stores are built
	// on; the engine uses it directly only to write each lens's build
	// log to a side path, alongside (not inside) that lens's
	// canonical, versioned meta.cbor.
	files *filestore.Store
	log   *zap.Logger

	statesMu sync.Mutex
	states   map[string]*lensState

	watchMu sync.Mutex
	watch   map[string]map[string]bool // input dataset root -> set of "user/name" lens keys
}

// New returns an Engine and subscribes it to bus. datasets and lenses
// are the two dataset.Store instances (source "datasets" and "lenses"
// respectively) this process runs; a lens may declare inputs or
// dependencies from either family, which is how lenses chain off other
// lenses.
func New(lenses, datasets *dataset.Store, resolver *readpath.Store, files *filestore.Store, bus *eventbus.Bus, sandbox Sandbox, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		lenses:   lenses,
		sources:  map[dspath.Source]*dataset.Store{dspath.SourceDatasets: datasets, dspath.SourceLenses: lenses},
		resolver: resolver,
		files:    files,
		bus:      bus,
		sandbox:  sandbox,
		log:      log,
		states:   make(map[string]*lensState),
		watch:    make(map[string]map[string]bool),
	}
	bus.On(e.onPathUpdated)
	return e
}

func buildLogPath(user, name string) []string {
	return []string{string(dspath.SourceLenses), user, name, "buildlog"}
}

func lensKey(user, name string) string { return user + "/" + name }

func (e *Engine) stateFor(key string) *lensState {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = &lensState{}
		e.states[key] = st
	}
	return st
}

func (e *Engine) onPathUpdated(path string, _ int64) {
	root, err := canonicalRoot(path)
	if err != nil {
		return
	}
	e.watchMu.Lock()
	var keys []string
	for k := range e.watch[root] {
		keys = append(keys, k)
	}
	e.watchMu.Unlock()
	for _, k := range keys {
		user, name, ok := splitLensKey(k)
		if !ok {
			continue
		}
		go func(u, n string) {
			if err := e.Build(context.Background(), u, n); err != nil {
				e.log.Warn("lens: build triggered by pathUpdated failed",
					zap.String("lens", u+"/"+n), zap.Error(err))
			}
		}(user, name)
	}
}

func splitLensKey(key string) (user, name string, ok bool) {
	i := strings.IndexByte(key, '/')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func canonicalRoot(path string) (string, error) {
	p, err := dspath.Decode(path)
	if err != nil {
		return "", err
	}
	return dspath.DatasetRoot(p.Source, p.User, p.Name), nil
}

func (e *Engine) registerWatch(user, name string, inputs []string) {
	key := lensKey(user, name)
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for _, in := range inputs {
		root, err := canonicalRoot(in)
		if err != nil {
			continue
		}
		if e.watch[root] == nil {
			e.watch[root] = make(map[string]bool)
		}
		e.watch[root][key] = true
	}
}

// Create stores cfg as a new lens's config and schedules its initial
// build (spec.md §4.10 "create ... triggers initial build").
func (e *Engine) Create(user, name string, cfg Config) error {
	config := configToValue(cfg)
	config["__engine"] = stateToValue(newEngineState())
	if err := e.lenses.Create(user, name, config); err != nil {
		return err
	}
	e.registerWatch(user, name, append(append([]string{}, cfg.Inputs...), cfg.Dependencies...))
	go func() {
		if err := e.Build(context.Background(), user, name); err != nil {
			e.log.Warn("lens: initial build failed", zap.String("lens", user+"/"+name), zap.Error(err))
		}
	}()
	return nil
}

// LoadAll re-registers watches for every lens already on disk, for use
// at process startup: config changes persist, but the in-memory watch
// index doesn't survive a restart.
func (e *Engine) LoadAll() error {
	users, err := e.resolver.Read("meta/system/system/lenses")
	if err != nil {
		return err
	}
	if users.Kind() != sv.KindSeq {
		return nil
	}
	for _, uv := range users.SeqVal() {
		user := uv.Str()
		names, err := e.lenses.List(user)
		if err != nil {
			e.log.Warn("lens: listing lenses during load", zap.String("user", user), zap.Error(err))
			continue
		}
		for _, name := range names {
			meta, err := e.lenses.ReadMeta(user, name)
			if err != nil {
				e.log.Warn("lens: reading lens meta during load",
					zap.String("user", user), zap.String("name", name), zap.Error(err))
				continue
			}
			cfg, _ := configFromValue(meta.Config)
			e.registerWatch(user, name, append(append([]string{}, cfg.Inputs...), cfg.Dependencies...))
		}
	}
	return nil
}

// Build runs (or, if one is already running, flags dirty for) one build
// of the named lens. Concurrency per spec.md §4.10: at most one build
// per lens runs at a time; events arriving mid-build coalesce into a
// single re-run once the current build finishes.
func (e *Engine) Build(ctx context.Context, user, name string) error {
	st := e.stateFor(lensKey(user, name))

	st.mu.Lock()
	if st.running {
		st.dirty = true
		st.mu.Unlock()
		return nil
	}
	st.running = true
	st.dirty = false
	st.mu.Unlock()

	for {
		err := e.buildOnce(ctx, user, name)

		st.mu.Lock()
		if err != nil || !st.dirty {
			st.running = false
			st.mu.Unlock()
			return err
		}
		st.dirty = false
		st.mu.Unlock()
	}
}

type inputChange struct {
	inputPath string
	recordID  string
	value     sv.Value
	present   bool // false for a record that disappeared between builds
}

func (e *Engine) buildOnce(ctx context.Context, user, name string) error {
	meta, err := e.lenses.ReadMeta(user, name)
	if err != nil {
		return err
	}
	cfg, err := configFromValue(meta.Config)
	if err != nil {
		return err
	}
	state, err := stateFromValue(meta.Config)
	if err != nil {
		return err
	}

	var changes []inputChange
	newVersions := map[string]int64{}
	newHashes := map[string]map[string]string{}

	for _, inputPath := range cfg.Inputs {
		p, err := dspath.Decode(inputPath)
		if err != nil {
			e.log.Warn("lens: bad input path", zap.String("lens", lensKey(user, name)), zap.String("input", inputPath), zap.Error(err))
			continue
		}
		ds := e.sources[p.Source]
		if ds == nil {
			e.log.Warn("lens: unknown input source", zap.String("input", inputPath))
			continue
		}
		inputMeta, err := ds.ReadMeta(p.User, p.Name)
		if err != nil {
			if pkgerr.IsNotFound(err) {
				newVersions[inputPath] = state.LastProcessedVersion[inputPath]
				continue
			}
			return err
		}
		if inputMeta.Version <= state.LastProcessedVersion[inputPath] {
			newVersions[inputPath] = state.LastProcessedVersion[inputPath]
			newHashes[inputPath] = state.LastHashes[inputPath]
			continue
		}

		cur := make(map[string]string, len(inputMeta.Records))
		for id, rm := range inputMeta.Records {
			cur[id] = rm.Hash.String()
		}
		prev := state.LastHashes[inputPath]

		for id, hash := range cur {
			if prev[id] != hash {
				v, ok, rerr := ds.Read(p.User, p.Name, id)
				if rerr != nil {
					return rerr
				}
				if ok {
					changes = append(changes, inputChange{inputPath: inputPath, recordID: id, value: v, present: true})
				}
			}
		}
		for id := range prev {
			if _, stillThere := cur[id]; !stillThere {
				changes = append(changes, inputChange{inputPath: inputPath, recordID: id, present: false})
			}
		}

		newVersions[inputPath] = inputMeta.Version
		newHashes[inputPath] = cur
	}

	if len(changes) == 0 {
		return nil
	}

	deps := &dependencyReader{engine: e, allowed: allowedPaths(cfg)}
	merged := map[string]sv.Value{}
	buildLog := map[string]sv.Value{}
	// reverseIndex is a working copy: the mutation loop below deletes
	// emptied producer sets from it as inputs are reprocessed, so the
	// overwrite-on-disappear check further down can compare against
	// state.ReverseIndex (the untouched prior snapshot) to see what
	// actually dropped out this round. Mutating state.ReverseIndex
	// directly here would make that comparison always "still there",
	// since Go maps are reference types.
	reverseIndex := cloneReverseIndex(state.ReverseIndex)

	for _, ch := range changes {
		inputKey := ch.inputPath + "#" + ch.recordID
		for outputID, producers := range reverseIndex {
			delete(producers, inputKey)
			if len(producers) == 0 {
				delete(reverseIndex, outputID)
			}
		}
		if !ch.present {
			continue
		}

		result, err := e.sandbox.Invoke(ctx, cfg.Code, ch.recordID, ch.value, deps)
		logEntry := map[string]sv.Value{}
		if len(result.Logs) > 0 {
			logs := make([]sv.Value, len(result.Logs))
			for i, l := range result.Logs {
				logs[i] = sv.String(l)
			}
			logEntry["logs"] = sv.Seq(logs)
		}
		if err != nil {
			fault, _ := err.(*Fault)
			message, stack := err.Error(), ""
			if fault != nil {
				stack = fault.Stack
			}
			logEntry["error"] = sv.String(message)
			buildLog[inputKey] = sv.Map(logEntry)
			e.log.Warn("lens: sandbox invocation faulted",
				zap.String("lens", lensKey(user, name)), zap.String("input", inputKey),
				zap.String("message", message), zap.String("stack", stack))
			continue
		}
		if len(logEntry) > 0 {
			buildLog[inputKey] = sv.Map(logEntry)
		}
		for _, out := range result.Entries {
			merged[out.ID] = out.Value
			if reverseIndex[out.ID] == nil {
				reverseIndex[out.ID] = map[string]bool{}
			}
			reverseIndex[out.ID][inputKey] = true
		}
	}

	var entries []dataset.Entry
	for id, v := range merged {
		entries = append(entries, dataset.Entry{ID: id, Data: v})
	}
	// Any output no longer claimed by any input (its producer set went
	// empty this round, including ones not re-emitted by a changed but
	// still-present record) is deleted, per spec.md §4.10 step 5
	// ("overwrite-on-disappear via reverse index").
	for outputID := range state.ReverseIndex {
		if _, stillThere := reverseIndex[outputID]; !stillThere {
			if _, alsoWrittenThisRound := merged[outputID]; !alsoWrittenThisRound {
				entries = append(entries, dataset.Entry{ID: outputID, Delete: true})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	if len(entries) > 0 {
		if _, err := e.lenses.Merge(user, name, entries); err != nil {
			return err
		}
	}

	state.LastProcessedVersion = newVersions
	state.LastHashes = newHashes
	state.ReverseIndex = reverseIndex

	if len(buildLog) > 0 {
		if werr := e.files.Write(buildLogPath(user, name), sv.Map(buildLog)); werr != nil {
			e.log.Warn("lens: writing build log side file", zap.String("lens", lensKey(user, name)), zap.Error(werr))
		}
	}

	_, err = e.lenses.UpdateMeta(user, name, func(draft *dataset.DatasetMeta) error {
		draft.Config["__engine"] = stateToValue(state)
		return nil
	})
	return err
}

func allowedPaths(cfg Config) map[string]bool {
	out := make(map[string]bool, len(cfg.Inputs)+len(cfg.Dependencies))
	for _, p := range cfg.Inputs {
		if root, err := canonicalRoot(p); err == nil {
			out[root] = true
		}
	}
	for _, p := range cfg.Dependencies {
		if root, err := canonicalRoot(p); err == nil {
			out[root] = true
		}
	}
	return out
}

func cloneReverseIndex(in map[string]map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(in))
	for outputID, producers := range in {
		cp := make(map[string]bool, len(producers))
		for k, v := range producers {
			cp[k] = v
		}
		out[outputID] = cp
	}
	return out
}

// dependencyReader is the DependencyReader a build hands to the
// sandbox: read-only access to a lens's declared inputs and
// dependencies, and nothing else.
type dependencyReader struct {
	engine  *Engine
	allowed map[string]bool
}

func (d *dependencyReader) Read(datasetPath, recordID string) (sv.Value, bool, error) {
	p, err := dspath.Decode(datasetPath)
	if err != nil {
		return sv.Value{}, false, err
	}
	root := dspath.DatasetRoot(p.Source, p.User, p.Name)
	if !d.allowed[root] {
		return sv.Value{}, false, pkgerr.ValidationFailedf("lens: %q is not a declared input or dependency", datasetPath)
	}
	full := dspath.Path{Source: p.Source, User: p.User, Name: p.Name, RecordID: recordID}.String()
	v, err := d.engine.resolver.Read(full)
	if err != nil {
		if pkgerr.IsNotFound(err) {
			return sv.Value{}, false, nil
		}
		return sv.Value{}, false, err
	}
	return v, true, nil
}

func configToValue(cfg Config) map[string]sv.Value {
	return map[string]sv.Value{
		"code":         sv.String(cfg.Code),
		"inputs":       sv.Seq(stringsToValues(cfg.Inputs)),
		"dependencies": sv.Seq(stringsToValues(cfg.Dependencies)),
		"memo":         sv.Bool(cfg.Memo),
	}
}

func configFromValue(config map[string]sv.Value) (Config, error) {
	cfg := Config{}
	if v, ok := config["code"]; ok {
		cfg.Code = v.Str()
	}
	if v, ok := config["inputs"]; ok && v.Kind() == sv.KindSeq {
		cfg.Inputs = valuesToStrings(v.SeqVal())
	}
	if v, ok := config["dependencies"]; ok && v.Kind() == sv.KindSeq {
		cfg.Dependencies = valuesToStrings(v.SeqVal())
	}
	if v, ok := config["memo"]; ok {
		cfg.Memo = v.Bool()
	}
	return cfg, nil
}

func stringsToValues(ss []string) []sv.Value {
	out := make([]sv.Value, len(ss))
	for i, s := range ss {
		out[i] = sv.String(s)
	}
	return out
}

func valuesToStrings(vs []sv.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Str()
	}
	return out
}

// engineState is the bookkeeping a build needs and the next build must
// see again: per-input version/hash snapshots for diffing, and the
// outputID -> producing-input-keys reverse index spec.md §4.10 calls
// for. It's stored inside the lens's own Config under a reserved key,
// so it versions and GCs exactly like the rest of the lens's metadata.
type engineState struct {
	LastProcessedVersion map[string]int64
	LastHashes           map[string]map[string]string
	ReverseIndex         map[string]map[string]bool
}

func newEngineState() engineState {
	return engineState{
		LastProcessedVersion: map[string]int64{},
		LastHashes:           map[string]map[string]string{},
		ReverseIndex:         map[string]map[string]bool{},
	}
}

func stateToValue(s engineState) sv.Value {
	versions := make(map[string]sv.Value, len(s.LastProcessedVersion))
	for k, v := range s.LastProcessedVersion {
		versions[k] = sv.Int(v)
	}
	hashes := make(map[string]sv.Value, len(s.LastHashes))
	for input, byID := range s.LastHashes {
		m := make(map[string]sv.Value, len(byID))
		for id, h := range byID {
			m[id] = sv.String(h)
		}
		hashes[input] = sv.Map(m)
	}
	reverse := make(map[string]sv.Value, len(s.ReverseIndex))
	for outputID, producers := range s.ReverseIndex {
		keys := make([]string, 0, len(producers))
		for k := range producers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		reverse[outputID] = sv.Seq(stringsToValues(keys))
	}
	return sv.Map(map[string]sv.Value{
		"lastProcessedVersion": sv.Map(versions),
		"lastHashes":           sv.Map(hashes),
		"reverseIndex":         sv.Map(reverse),
	})
}

func stateFromValue(config map[string]sv.Value) (engineState, error) {
	s := newEngineState()
	raw, ok := config["__engine"]
	if !ok || raw.Kind() != sv.KindMap {
		return s, nil
	}
	fields := raw.MapVal()
	if v, ok := fields["lastProcessedVersion"]; ok && v.Kind() == sv.KindMap {
		for k, n := range v.MapVal() {
			s.LastProcessedVersion[k] = n.Int()
		}
	}
	if v, ok := fields["lastHashes"]; ok && v.Kind() == sv.KindMap {
		for input, byIDVal := range v.MapVal() {
			if byIDVal.Kind() != sv.KindMap {
				continue
			}
			m := make(map[string]string)
			for id, h := range byIDVal.MapVal() {
				m[id] = h.Str()
			}
			s.LastHashes[input] = m
		}
	}
	if v, ok := fields["reverseIndex"]; ok && v.Kind() == sv.KindMap {
		for outputID, keysVal := range v.MapVal() {
			if keysVal.Kind() != sv.KindSeq {
				continue
			}
			set := make(map[string]bool)
			for _, kv := range keysVal.SeqVal() {
				set[kv.Str()] = true
			}
			s.ReverseIndex[outputID] = set
		}
	}
	return s, nil
}
