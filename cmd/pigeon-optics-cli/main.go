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

// Command pigeon-optics-cli is a small administrative and scripting
// front end over the core library: it wires up the storage stack from
// a config file and dispatches a handful of subcommands directly
// against pkg/dataset, pkg/attachment, and pkg/lens. It plays the role
// camtool plays for Perkeep's pkg/blobserver and pkg/search — a single
// binary exercising the library the HTTP server would otherwise front
// — without HTTP, sessions, or the in-browser editor, all of which
// spec.md names as external collaborators out of this module's scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"pigeon-optics.org/pkg/attachment"
	"pigeon-optics.org/pkg/blobstore"
	"pigeon-optics.org/pkg/clock"
	"pigeon-optics.org/pkg/codec"
	"pigeon-optics.org/pkg/dataset"
	"pigeon-optics.org/pkg/dspath"
	"pigeon-optics.org/pkg/eventbus"
	"pigeon-optics.org/pkg/filestore"
	"pigeon-optics.org/pkg/hashref"
	"pigeon-optics.org/pkg/lens"
	"pigeon-optics.org/pkg/pkgconfig"
	"pigeon-optics.org/pkg/readpath"
	"pigeon-optics.org/pkg/sv"
)

// core bundles every component main needs to wire once and hand to
// whichever subcommand runs.
type core struct {
	datasets    *dataset.Store
	lenses      *dataset.Store
	attachments *attachment.Store
	resolver    *readpath.Store
	engine      *lens.Engine
	reg         *codec.Registry
	log         *zap.Logger
}

func main() {
	configPath := flag.String("config", "", "path to a pigeon-optics JSON config file")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "pigeon-optics-cli: -config is required")
		os.Exit(2)
	}

	c, err := buildCore(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pigeon-optics-cli:", err)
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	runner, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "pigeon-optics-cli: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err := runner(c, rest); err != nil {
		fmt.Fprintln(os.Stderr, "pigeon-optics-cli:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pigeon-optics-cli -config=<path> <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+name)
	}
}

var commands = map[string]func(*core, []string) error{
	"create-dataset":    cmdCreateDataset,
	"list-datasets":     cmdListDatasets,
	"write-record":      cmdWriteRecord,
	"read-record":       cmdReadRecord,
	"delete-record":     cmdDeleteRecord,
	"delete-dataset":    cmdDeleteDataset,
	"upload-attachment": cmdUploadAttachment,
	"create-lens":       cmdCreateLens,
	"build-lens":        cmdBuildLens,
	"gc-attachment":     cmdGCAttachment,
}

func buildCore(configPath string) (*core, error) {
	obj, err := pkgconfig.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	root := obj.RequiredString("dataRoot")
	paranoid := obj.OptionalBool("paranoidObjectStore", false)
	sandboxTimeoutMillis := obj.OptionalInt("sandboxTimeoutMillis", 5000)
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	clk := clock.System{}
	reg := codec.DefaultRegistry()

	files, err := filestore.New(root, reg, log)
	if err != nil {
		return nil, fmt.Errorf("opening file store: %w", err)
	}
	attachmentBlobs, err := blobstore.New(root+"/attachments/blobs", "data", log)
	if err != nil {
		return nil, fmt.Errorf("opening attachment blob store: %w", err)
	}
	attachments := attachment.New(attachmentBlobs, files, clk, log)

	bus := eventbus.New(log)
	datasets := dataset.New(dspath.SourceDatasets, root, files, reg, attachments, bus, clk, dataset.NopValidator{}, paranoid, log)
	lenses := dataset.New(dspath.SourceLenses, root, files, reg, attachments, bus, clk, lens.Validator{}, paranoid, log)
	resolver := readpath.New(datasets, lenses, files, log)
	attachments.SetResolver(resolver)

	sandbox := lens.NewGojaSandbox(time.Duration(sandboxTimeoutMillis) * time.Millisecond)
	engine := lens.New(lenses, datasets, resolver, files, bus, sandbox, log)
	if err := engine.LoadAll(); err != nil {
		log.Warn("loading existing lenses", zap.Error(err))
	}

	return &core{
		datasets: datasets, lenses: lenses, attachments: attachments,
		resolver: resolver, engine: engine, reg: reg, log: log,
	}, nil
}

func cmdCreateDataset(c *core, args []string) error {
	fs := flag.NewFlagSet("create-dataset", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	name := fs.String("name", "", "dataset name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.datasets.Create(*user, *name, map[string]sv.Value{})
}

func cmdListDatasets(c *core, args []string) error {
	fs := flag.NewFlagSet("list-datasets", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := c.datasets.List(*user)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdWriteRecord(c *core, args []string) error {
	fs := flag.NewFlagSet("write-record", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	name := fs.String("name", "", "dataset name")
	id := fs.String("id", "", "record id")
	file := fs.String("file", "-", "input file, or - for stdin")
	format := fs.String("format", "json", "codec name/extension/media type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cdc := c.reg.For(*format)
	if cdc == nil {
		return fmt.Errorf("unknown format %q", *format)
	}
	data, err := readInput(*file)
	if err != nil {
		return err
	}
	v, err := cdc.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	_, err = c.datasets.Write(*user, *name, *id, v)
	return err
}

func cmdReadRecord(c *core, args []string) error {
	fs := flag.NewFlagSet("read-record", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	name := fs.String("name", "", "dataset name")
	id := fs.String("id", "", "record id")
	format := fs.String("format", "json", "codec name/extension/media type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cdc := c.reg.For(*format)
	if cdc == nil {
		return fmt.Errorf("unknown format %q", *format)
	}
	v, ok, err := c.datasets.Read(*user, *name, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %s/%s/%s not found", *user, *name, *id)
	}
	out, err := cdc.Encode(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func cmdDeleteRecord(c *core, args []string) error {
	fs := flag.NewFlagSet("delete-record", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	name := fs.String("name", "", "dataset name")
	id := fs.String("id", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, err := c.datasets.DeleteRecord(*user, *name, *id)
	return err
}

func cmdDeleteDataset(c *core, args []string) error {
	fs := flag.NewFlagSet("delete-dataset", flag.ExitOnError)
	user := fs.String("user", "", "dataset owner")
	name := fs.String("name", "", "dataset name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.datasets.Delete(*user, *name)
}

func cmdUploadAttachment(c *core, args []string) error {
	fs := flag.NewFlagSet("upload-attachment", flag.ExitOnError)
	file := fs.String("file", "-", "input file, or - for stdin")
	linker := fs.String("linker", "", "data path this upload will be linked from, if known up front")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := openInput(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	var linkers []string
	if *linker != "" {
		linkers = []string{*linker}
	}
	h, release, err := c.attachments.WriteStream(f, linkers, nil)
	if err != nil {
		return err
	}
	release()
	fmt.Printf("hash://sha256/%s\n", h.String())
	return nil
}

func cmdCreateLens(c *core, args []string) error {
	fs := flag.NewFlagSet("create-lens", flag.ExitOnError)
	user := fs.String("user", "", "lens owner")
	name := fs.String("name", "", "lens name")
	codeFile := fs.String("code", "", "path to the map function's JS source")
	input := multiFlag{}
	fs.Var(&input, "input", "dataset path this lens reads (repeatable)")
	dependency := multiFlag{}
	fs.Var(&dependency, "dependency", "dataset path readable but not iterated (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	code, err := os.ReadFile(*codeFile)
	if err != nil {
		return err
	}
	return c.engine.Create(*user, *name, lens.Config{
		Code:         string(code),
		Inputs:       []string(input),
		Dependencies: []string(dependency),
	})
}

func cmdBuildLens(c *core, args []string) error {
	fs := flag.NewFlagSet("build-lens", flag.ExitOnError)
	user := fs.String("user", "", "lens owner")
	name := fs.String("name", "", "lens name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.engine.Build(context.Background(), *user, *name)
}

func cmdGCAttachment(c *core, args []string) error {
	fs := flag.NewFlagSet("gc-attachment", flag.ExitOnError)
	hashHex := fs.String("hash", "", "attachment content hash, hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	h, err := parseHashHex(*hashHex)
	if err != nil {
		return err
	}
	retained, err := c.attachments.Validate(h)
	if err != nil {
		return err
	}
	fmt.Println("retained:", retained)
	return nil
}

func parseHashHex(s string) (hashref.Hash, error) {
	return hashref.FromHex(s)
}

type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return readAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func openInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func readAll(f *os.File) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if err.Error() == "EOF" {
				return buf, nil
			}
			return nil, err
		}
	}
}
