package assets

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ManifestFilename is written into the output directory when Config.Manifest is set.
const ManifestFilename = "build-manifest.json"

type Config struct {
	// Entry module the bundle is resolved from (e.g., "./lib/js/src/popup.bs.js")
	Entry string `yaml:"entry" toml:"entry" json:"entry"`
	// Output directory for the bundle and copied files
	OutputDir string `yaml:"outputDir" toml:"outputDir" json:"outputDir"`
	// File name of the bundle inside OutputDir
	OutputFilename string `yaml:"outputFilename" toml:"outputFilename" json:"outputFilename"`
	// Files copied verbatim into OutputDir, in declaration order
	Copy []CopyRule `yaml:"copy" toml:"copy" json:"copy"`

	// Bundle format: iife, esm or cjs
	Format string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"`
	// Target platform: browser, node or neutral
	Platform string `yaml:"platform,omitempty" toml:"platform,omitempty" json:"platform,omitempty"`
	// Language target, e.g. esnext or es2020
	Target string `yaml:"target,omitempty" toml:"target,omitempty" json:"target,omitempty"`
	// Whether to minify output
	Minify bool `yaml:"minify,omitempty" toml:"minify,omitempty" json:"minify,omitempty"`
	// Whether to emit a linked source map next to the bundle
	SourceMap bool `yaml:"sourceMap,omitempty" toml:"sourceMap,omitempty" json:"sourceMap,omitempty"`
	// Module paths left out of the bundle
	External []string `yaml:"external,omitempty" toml:"external,omitempty" json:"external,omitempty"`
	// Global identifier substitutions
	Define map[string]string `yaml:"define,omitempty" toml:"define,omitempty" json:"define,omitempty"`

	// Precompressed sidecars to write for every output: gzip, zstd
	Compress []string `yaml:"compress,omitempty" toml:"compress,omitempty" json:"compress,omitempty"`
	// Whether to write build-manifest.json into OutputDir
	Manifest bool `yaml:"manifest,omitempty" toml:"manifest,omitempty" json:"manifest,omitempty"`

	// Directory relative paths are resolved against, set by Load
	BaseDir string `yaml:"-" toml:"-" json:"-"`
}

// CopyRule duplicates From into OutputDir. To defaults to the base name of From.
type CopyRule struct {
	From string `yaml:"from" toml:"from" json:"from"`
	To   string `yaml:"to,omitempty" toml:"to,omitempty" json:"to,omitempty"`
}

// ResolvedRule is a CopyRule with absolute paths, after collision handling.
type ResolvedRule struct {
	// Index of the rule in Config.Copy
	Index int
	// Absolute source path
	Source string
	// Destination relative to OutputDir, slash separated
	Dest string
	// Absolute destination path
	Target string
}

var (
	formats     = []string{"iife", "esm", "cjs"}
	platforms   = []string{"browser", "node", "neutral"}
	targets     = []string{"esnext", "es2015", "es2016", "es2017", "es2018", "es2019", "es2020", "es2021", "es2022", "es2023", "es2024"}
	compressors = []string{"gzip", "zstd"}
)

// DefaultConfig returns the descriptor for the popup extension build
func DefaultConfig() Config {
	return Config{
		Entry:          "./lib/js/src/popup.bs.js",
		OutputDir:      "build",
		OutputFilename: "index.js",
		Copy: []CopyRule{
			{From: "manifest.json"},
			{From: "icon.png"},
			{From: "popup.html"},
		},
		Format:   "iife",
		Platform: "browser",
		Target:   "esnext",
	}
}

// withDefaults fills optional bundler settings left empty by a descriptor.
func (c Config) withDefaults() Config {
	if c.Format == "" {
		c.Format = "iife"
	}
	if c.Platform == "" {
		c.Platform = "browser"
	}
	if c.Target == "" {
		c.Target = "esnext"
	}
	return c
}

// Validate checks the descriptor without touching the filesystem.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Entry) == "" {
		return fmt.Errorf("%w: entry is required", ErrConfig)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("%w: outputDir is required", ErrConfig)
	}
	if strings.TrimSpace(c.OutputFilename) == "" {
		return fmt.Errorf("%w: outputFilename is required", ErrConfig)
	}
	if !isLocal(c.OutputFilename) {
		return fmt.Errorf("%w: outputFilename %q must be a relative path inside outputDir", ErrConfig, c.OutputFilename)
	}

	if c.Format != "" && !slices.Contains(formats, c.Format) {
		return fmt.Errorf("%w: format %q must be one of %s", ErrConfig, c.Format, strings.Join(formats, ", "))
	}
	if c.Platform != "" && !slices.Contains(platforms, c.Platform) {
		return fmt.Errorf("%w: platform %q must be one of %s", ErrConfig, c.Platform, strings.Join(platforms, ", "))
	}
	if c.Target != "" && !slices.Contains(targets, strings.ToLower(c.Target)) {
		return fmt.Errorf("%w: target %q is not supported", ErrConfig, c.Target)
	}
	for _, name := range c.Compress {
		if !slices.Contains(compressors, name) {
			return fmt.Errorf("%w: compress %q must be one of %s", ErrConfig, name, strings.Join(compressors, ", "))
		}
	}

	generated := c.reservedOutputs()
	dests := make([]string, len(c.Copy))
	for i, rule := range c.Copy {
		if strings.TrimSpace(rule.From) == "" {
			return fmt.Errorf("%w: copy[%d]: from is required", ErrConfig, i)
		}
		dest := rule.destination()
		if !isLocal(dest) {
			return fmt.Errorf("%w: copy[%d]: destination %q must be a relative path inside outputDir", ErrConfig, i, dest)
		}
		dests[i] = dest
		for _, name := range c.Compress {
			generated = append(generated, dest+sidecarExt(name))
		}
	}

	for i, dest := range dests {
		for _, out := range generated {
			if dest == out || overlaps(dest, out) {
				return fmt.Errorf("%w: copy[%d]: destination %q collides with a generated output %q", ErrConfig, i, dest, out)
			}
		}
		for j, other := range dests {
			if i != j && overlaps(dest, other) {
				return fmt.Errorf("%w: copy[%d]: destination %q overlaps copy[%d] destination %q", ErrConfig, i, dest, j, other)
			}
		}
	}

	return nil
}

// Rules resolves copy destinations. When several rules target the same
// destination the last declared one wins; the skipped ones are returned
// as overridden.
func (c Config) Rules() (rules []ResolvedRule, overridden []ResolvedRule) {
	outDir := c.OutputPath()
	winner := make(map[string]int, len(c.Copy))
	for i, rule := range c.Copy {
		winner[rule.destination()] = i
	}

	for i, rule := range c.Copy {
		dest := rule.destination()
		resolved := ResolvedRule{
			Index:  i,
			Source: c.resolve(rule.From),
			Dest:   dest,
			Target: filepath.Join(outDir, filepath.FromSlash(dest)),
		}
		if winner[dest] != i {
			overridden = append(overridden, resolved)
			continue
		}
		rules = append(rules, resolved)
	}
	return rules, overridden
}

// EntryPath returns the absolute entry module path
func (c Config) EntryPath() string {
	return c.resolve(c.Entry)
}

// OutputPath returns the absolute output directory
func (c Config) OutputPath() string {
	return c.resolve(c.OutputDir)
}

// BundlePath returns the absolute path of the bundle file
func (c Config) BundlePath() string {
	return filepath.Join(c.OutputPath(), filepath.FromSlash(c.OutputFilename))
}

func (c Config) resolve(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.BaseDir, p)
}

// reservedOutputs lists destinations written by the pipeline itself.
func (c Config) reservedOutputs() []string {
	bundle := filepath.ToSlash(filepath.Clean(filepath.FromSlash(c.OutputFilename)))
	reserved := []string{bundle, bundle + ".map"}
	if c.Manifest {
		reserved = append(reserved, ManifestFilename)
	}
	for _, name := range c.Compress {
		reserved = append(reserved, bundle+sidecarExt(name), bundle+".map"+sidecarExt(name))
	}
	return reserved
}

func (r CopyRule) destination() string {
	to := r.To
	if to == "" {
		to = filepath.Base(filepath.FromSlash(r.From))
	}
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(to)))
}

// isLocal reports whether p names a file below the output directory, not
// the directory itself.
func isLocal(p string) bool {
	p = filepath.FromSlash(p)
	return filepath.IsLocal(p) && filepath.Clean(p) != "."
}

// overlaps reports whether one output would need the other as a directory.
func overlaps(a, b string) bool {
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}
