package assets

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entrySource = `import { greet } from "./greet.js";
document.title = greet("popup");
`
	greetSource = `export function greet(name) {
  return "hello " + name;
}
`
	manifestSource = `{"manifest_version": 3, "name": "popup"}`
	pageSource     = `<!doctype html><html><body><script src="index.js"></script></body></html>`
	iconSource     = string([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x01, 0xfe, 0xff})
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		target := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}
}

func scenarioTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"src/main.js":   entrySource,
		"src/greet.js":  greetSource,
		"manifest.json": manifestSource,
		"icon.png":      iconSource,
		"page.html":     pageSource,
	})
	return dir
}

func scenarioConfig(dir string) Config {
	return Config{
		BaseDir:        dir,
		Entry:          "src/main.js",
		OutputDir:      "build",
		OutputFilename: "index.js",
		Copy: []CopyRule{
			{From: "manifest.json"},
			{From: "icon.png"},
			{From: "page.html"},
		},
	}
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBuild_scenario(t *testing.T) {
	dir := scenarioTree(t)
	p := newPipeline(t, scenarioConfig(dir))

	result, err := p.Build(context.Background())
	require.NoError(t, err)

	outDir := filepath.Join(dir, "build")
	require.Equal(t, []string{"icon.png", "index.js", "manifest.json", "page.html"}, listFiles(t, outDir))

	bundle := readFile(t, filepath.Join(outDir, "index.js"))
	assert.Contains(t, bundle, "hello ")
	assert.Contains(t, bundle, "popup")
	assert.NotContains(t, bundle, "import ")

	assert.Equal(t, manifestSource, readFile(t, filepath.Join(outDir, "manifest.json")))
	assert.Equal(t, iconSource, readFile(t, filepath.Join(outDir, "icon.png")))
	assert.Equal(t, pageSource, readFile(t, filepath.Join(outDir, "page.html")))

	require.Len(t, result.Outputs, 4)
	assert.Equal(t, "index.js", result.Outputs[0].Path)
	assert.Equal(t, KindBundle, result.Outputs[0].Kind)
	for i, want := range []string{"manifest.json", "icon.png", "page.html"} {
		out := result.Outputs[i+1]
		assert.Equal(t, want, out.Path)
		assert.Equal(t, KindCopy, out.Kind)
		assert.Equal(t, want, out.Source)
		assert.NotEmpty(t, out.Fingerprint)
	}

	icon, ok := result.Output("icon.png")
	require.True(t, ok)
	assert.Equal(t, int64(len(iconSource)), icon.Size)
	assert.Len(t, icon.Checksum(), 16)

	assert.NotEmpty(t, result.BuildID)
	assert.Empty(t, result.Overridden)
	assert.Same(t, result, p.LastResult())
}

func TestBuild_idempotent(t *testing.T) {
	dir := scenarioTree(t)
	p := newPipeline(t, scenarioConfig(dir))
	outDir := filepath.Join(dir, "build")

	first, err := p.Build(context.Background())
	require.NoError(t, err)

	before := map[string]string{}
	for _, name := range listFiles(t, outDir) {
		before[name] = readFile(t, filepath.Join(outDir, name))
	}

	second, err := p.Build(context.Background())
	require.NoError(t, err)

	after := map[string]string{}
	for _, name := range listFiles(t, outDir) {
		after[name] = readFile(t, filepath.Join(outDir, name))
	}

	require.Equal(t, before, after)
	require.NotEqual(t, first.BuildID, second.BuildID)
	for i := range first.Outputs {
		assert.Equal(t, first.Outputs[i].Fingerprint, second.Outputs[i].Fingerprint)
	}
}

func TestBuild_missingEntry(t *testing.T) {
	dir := scenarioTree(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "src/main.js")))

	p := newPipeline(t, scenarioConfig(dir))

	_, err := p.Build(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrResolution)
	require.Contains(t, err.Error(), "src/main.js")
	require.Equal(t, ExitResolution, ExitCode(err))

	_, statErr := os.Stat(filepath.Join(dir, "build"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
	require.Nil(t, p.LastResult())
}

func TestBuild_missingCopySource(t *testing.T) {
	dir := scenarioTree(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "icon.png")))

	p := newPipeline(t, scenarioConfig(dir))

	_, err := p.Build(context.Background())
	require.ErrorIs(t, err, ErrResolution)
	require.Contains(t, err.Error(), "icon.png")
	require.NotContains(t, err.Error(), "manifest.json")
	require.NotEqual(t, ExitSuccess, ExitCode(err))

	// Inputs are checked before anything is written
	_, statErr := os.Stat(filepath.Join(dir, "build"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestBuild_reportsEveryMissingInput(t *testing.T) {
	dir := scenarioTree(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "icon.png")))
	require.NoError(t, os.Remove(filepath.Join(dir, "page.html")))

	_, err := newPipeline(t, scenarioConfig(dir)).Build(context.Background())
	require.ErrorIs(t, err, ErrResolution)
	require.Contains(t, err.Error(), "icon.png")
	require.Contains(t, err.Error(), "page.html")

	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	require.Equal(t, "resolve copy source", pathErr.Op)
}

func TestBuild_copySourceIsDirectory(t *testing.T) {
	dir := scenarioTree(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "icon.png")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "icon.png"), 0o755))

	_, err := newPipeline(t, scenarioConfig(dir)).Build(context.Background())
	require.ErrorIs(t, err, ErrResolution)
	require.Contains(t, err.Error(), "not a regular file")
}

func TestBuild_overwritesExistingOutputs(t *testing.T) {
	dir := scenarioTree(t)
	writeTree(t, dir, map[string]string{
		"build/icon.png": "stale content that is longer than the real icon",
		"build/index.js": "stale",
	})

	_, err := newPipeline(t, scenarioConfig(dir)).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, iconSource, readFile(t, filepath.Join(dir, "build/icon.png")))
	assert.NotEqual(t, "stale", readFile(t, filepath.Join(dir, "build/index.js")))
}

func TestBuild_collisionLastDeclaredWins(t *testing.T) {
	dir := scenarioTree(t)
	writeTree(t, dir, map[string]string{
		"themes/dark/page.html": "dark",
	})

	cfg := scenarioConfig(dir)
	cfg.Copy = append(cfg.Copy, CopyRule{From: "themes/dark/page.html"})

	result, err := newPipeline(t, cfg).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dark", readFile(t, filepath.Join(dir, "build/page.html")))
	require.Len(t, result.Overridden, 1)
	assert.Equal(t, 2, result.Overridden[0].Index)
	assert.Equal(t, "page.html", result.Overridden[0].Dest)

	page, ok := result.Output("page.html")
	require.True(t, ok)
	assert.Equal(t, "themes/dark/page.html", page.Source)
}

func TestBuild_explicitDestination(t *testing.T) {
	dir := scenarioTree(t)
	cfg := scenarioConfig(dir)
	cfg.Copy = []CopyRule{{From: "icon.png", To: "icons/128.png"}}

	_, err := newPipeline(t, cfg).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"icons/128.png", "index.js"}, listFiles(t, filepath.Join(dir, "build")))
	assert.Equal(t, iconSource, readFile(t, filepath.Join(dir, "build/icons/128.png")))
}

func TestBuild_sourceMap(t *testing.T) {
	dir := scenarioTree(t)
	cfg := scenarioConfig(dir)
	cfg.SourceMap = true
	cfg.Minify = true

	result, err := newPipeline(t, cfg).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, KindBundle, result.Outputs[0].Kind)
	sourceMap, ok := result.Output("index.js.map")
	require.True(t, ok)
	assert.Equal(t, KindSourceMap, sourceMap.Kind)

	assert.Contains(t, readFile(t, filepath.Join(dir, "build/index.js")), "sourceMappingURL=index.js.map")
	assert.Contains(t, readFile(t, filepath.Join(dir, "build/index.js.map")), "greet.js")
}

func TestBuild_compressedSidecars(t *testing.T) {
	dir := scenarioTree(t)
	cfg := scenarioConfig(dir)
	cfg.Compress = []string{"gzip", "zstd"}

	result, err := newPipeline(t, cfg).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Outputs, 12)

	for _, name := range []string{"index.js", "manifest.json", "icon.png", "page.html"} {
		original := readFile(t, filepath.Join(dir, "build", name))

		gz, err := os.Open(filepath.Join(dir, "build", name+".gz"))
		require.NoError(t, err)
		gzr, err := gzip.NewReader(gz)
		require.NoError(t, err)
		data, err := io.ReadAll(gzr)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		assert.Equal(t, original, string(data), name+".gz")

		zst, err := os.ReadFile(filepath.Join(dir, "build", name+".zst"))
		require.NoError(t, err)
		dec, err := zstd.NewReader(bytes.NewReader(zst))
		require.NoError(t, err)
		data, err = io.ReadAll(dec)
		dec.Close()
		require.NoError(t, err)
		assert.Equal(t, original, string(data), name+".zst")

		sidecar, ok := result.Output(name + ".zst")
		require.True(t, ok)
		assert.Equal(t, KindSidecar, sidecar.Kind)
		assert.Equal(t, name, sidecar.Source)
	}
}

func TestBuild_compileErrors(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		kind  error
	}{
		{
			name:  "syntax error",
			entry: "const = ;\n",
			kind:  ErrBundle,
		},
		{
			name:  "unresolved import",
			entry: "import { missing } from \"./missing.js\";\nmissing();\n",
			kind:  ErrResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := scenarioTree(t)
			writeTree(t, dir, map[string]string{"src/main.js": tt.entry})

			_, err := newPipeline(t, scenarioConfig(dir)).Build(context.Background())
			require.ErrorIs(t, err, tt.kind)

			_, statErr := os.Stat(filepath.Join(dir, "build/index.js"))
			require.ErrorIs(t, statErr, os.ErrNotExist)
		})
	}
}

func TestBuild_outputDirNotWritable(t *testing.T) {
	dir := scenarioTree(t)
	writeTree(t, dir, map[string]string{"build": "a file where the output directory should be"})

	_, err := newPipeline(t, scenarioConfig(dir)).Build(context.Background())
	require.ErrorIs(t, err, ErrWrite)
	require.Equal(t, ExitWriteError, ExitCode(err))
	require.Contains(t, err.Error(), "build")
}

func TestBuild_cancelled(t *testing.T) {
	dir := scenarioTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, scenarioConfig(dir)).Build(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_inputs(t *testing.T) {
	dir := scenarioTree(t)
	p := newPipeline(t, scenarioConfig(dir))

	require.Nil(t, p.Inputs())
	require.Equal(t, filepath.Join(dir, "src/main.js"), p.Sources()[0])

	_, err := p.Build(context.Background())
	require.NoError(t, err)

	require.NotNil(t, p.Metadata())
	require.Equal(t, []string{
		filepath.Join(dir, "src/greet.js"),
		filepath.Join(dir, "src/main.js"),
	}, p.Inputs())

	sources := p.Sources()
	require.Len(t, sources, 5)
	require.Contains(t, sources, filepath.Join(dir, "icon.png"))
}

func TestNew_invalidConfig(t *testing.T) {
	_, err := New(Config{Entry: "src/main.js", OutputDir: "build"})
	require.ErrorIs(t, err, ErrConfig)
	require.Equal(t, ExitConfigError, ExitCode(err))
}

func TestNew_appliesDefaults(t *testing.T) {
	p := newPipeline(t, scenarioConfig(t.TempDir()))
	require.Equal(t, "iife", p.Config().Format)
	require.Equal(t, "browser", p.Config().Platform)
	require.True(t, filepath.IsAbs(p.Config().BaseDir))
}

func TestNew_rejectsUnbuildableDestinations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{
			name:   "bundle is the output dir",
			mutate: func(c *Config) { c.OutputFilename = "." },
		},
		{
			name:   "copy is the output dir",
			mutate: func(c *Config) { c.Copy[1].To = "." },
		},
		{
			name: "copy replaced by a sidecar",
			mutate: func(c *Config) {
				c.Compress = []string{"gzip"}
				c.Copy = append(c.Copy, CopyRule{From: "icon.png.gz"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := scenarioTree(t)
			writeTree(t, dir, map[string]string{"icon.png.gz": "not really gzip"})
			cfg := scenarioConfig(dir)
			tt.mutate(&cfg)

			_, err := New(cfg)
			require.ErrorIs(t, err, ErrConfig)
			require.Equal(t, ExitConfigError, ExitCode(err))

			_, statErr := os.Stat(filepath.Join(dir, "build"))
			require.ErrorIs(t, statErr, os.ErrNotExist)
		})
	}
}
