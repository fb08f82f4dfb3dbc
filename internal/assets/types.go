package assets

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// BuildMetadata is the subset of the esbuild metafile the pipeline uses
type BuildMetadata struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes   int          `json:"bytes"`
	Imports []ImportInfo `json:"imports"`
}

type OutputInfo struct {
	Bytes      int                     `json:"bytes"`
	EntryPoint string                  `json:"entryPoint"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []ImportInfo            `json:"imports"`
}

type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
}

// OutputKind describes how an output file was produced
type OutputKind string

const (
	KindBundle    OutputKind = "bundle"
	KindSourceMap OutputKind = "sourcemap"
	KindCopy      OutputKind = "copy"
	KindSidecar   OutputKind = "sidecar"
	KindManifest  OutputKind = "manifest"
)

// Output is a single file written into the output directory
type Output struct {
	// Path relative to the output directory, slash separated
	Path string     `json:"path"`
	Kind OutputKind `json:"kind"`
	// Declared source for copies, the original output for sidecars
	Source      string `json:"source,omitempty"`
	Size        int64  `json:"size"`
	CRC64       uint64 `json:"-"`
	Fingerprint string `json:"fingerprint"`
}

// Checksum returns the CRC-64/NVME of the file as hex
func (o Output) Checksum() string {
	return fmt.Sprintf("%016x", o.CRC64)
}

// Result summarises a completed build
type Result struct {
	BuildID string
	Outputs []Output
	// Copy rules skipped because a later rule targets the same destination
	Overridden []ResolvedRule
	Duration   time.Duration
}

// Output returns the output written at path, if any
func (r *Result) Output(path string) (Output, bool) {
	for _, o := range r.Outputs {
		if o.Path == path {
			return o, true
		}
	}
	return Output{}, false
}

// Pipeline manages the bundle and copy process for one descriptor
type Pipeline struct {
	config    Config
	metadata  *BuildMetadata
	last      *Result
	copyLimit int
	mu        sync.RWMutex
}

// New creates a pipeline for the given descriptor, validating it first
func New(config Config) (*Pipeline, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.BaseDir == "" {
		config.BaseDir = "."
	}
	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, pathError(ErrConfig, "resolve base directory", config.BaseDir, err)
	}
	config.BaseDir = baseDir

	return &Pipeline{
		config:    config,
		copyLimit: runtime.NumCPU(),
	}, nil
}

// Config returns the validated descriptor with an absolute BaseDir
func (p *Pipeline) Config() Config {
	return p.config
}

// Metadata returns the metafile of the last successful bundle, or nil
func (p *Pipeline) Metadata() *BuildMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata
}

// LastResult returns the result of the last successful build, or nil
func (p *Pipeline) LastResult() *Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Inputs returns the absolute paths of every source file that contributed
// to the last bundle, sorted. Virtual modules are skipped.
func (p *Pipeline) Inputs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil
	}

	inputs := make([]string, 0, len(p.metadata.Inputs))
	for name := range p.metadata.Inputs {
		if strings.Contains(name, ":") || strings.HasPrefix(name, "<") {
			continue
		}
		inputs = append(inputs, p.config.resolve(name))
	}
	sort.Strings(inputs)
	return inputs
}

// Sources returns every file the build reads: the bundle inputs (or the
// entry before the first build) and all copy sources.
func (p *Pipeline) Sources() []string {
	sources := p.Inputs()
	if len(sources) == 0 {
		sources = []string{p.config.EntryPath()}
	}
	for _, rule := range p.config.Copy {
		sources = append(sources, p.config.resolve(rule.From))
	}
	return sources
}
