package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlekit/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Build bundles the entry module and copies every rule into the output
// directory. All inputs are checked before the output directory is
// touched, so a missing entry or copy source writes nothing. Once writing
// has started a failure leaves the outputs completed so far on disk.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	m := telemetry.GetMetrics()
	m.BuildsTotal.Add(ctx, 1)

	ctx, span := telemetry.Tracer().Start(ctx, "assets.Build", trace.WithAttributes(
		attribute.String("entry", p.config.Entry),
		attribute.String("output_dir", p.config.OutputDir),
		attribute.Int("copy_rules", len(p.config.Copy)),
	))
	defer span.End()

	result, err := p.build(ctx)
	elapsed := time.Since(started)
	m.BuildDuration.Record(ctx, float64(elapsed.Milliseconds()))

	if err != nil {
		m.BuildErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", errorKind(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var written int64
	for _, out := range result.Outputs {
		written += out.Size
	}
	m.FilesWrittenTotal.Add(ctx, int64(len(result.Outputs)))
	m.BytesWrittenTotal.Add(ctx, written)

	result.Duration = elapsed
	p.last = result

	zerolog.Ctx(ctx).Info().
		Str("build_id", result.BuildID).
		Int("outputs", len(result.Outputs)).
		Int64("bytes", written).
		Dur("duration", elapsed).
		Msg("Build complete")

	return result, nil
}

func (p *Pipeline) build(ctx context.Context) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	cfg := p.config

	rules, overridden := cfg.Rules()
	for _, rule := range overridden {
		logger.Warn().
			Str("from", cfg.Copy[rule.Index].From).
			Str("to", rule.Dest).
			Msg("Copy rule overridden by a later rule with the same destination")
	}

	if err := p.preflight(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutputPath(), dirMode); err != nil {
		return nil, pathError(ErrWrite, "create output directory", cfg.OutputDir, err)
	}

	result := &Result{
		BuildID:    uuid.NewString(),
		Overridden: overridden,
	}

	bundled, err := p.bundle(ctx)
	if err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, bundled...)

	copied, err := p.copyAll(ctx, rules)
	if err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, copied...)

	sidecars, err := p.compressAll(ctx, result.Outputs)
	if err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, sidecars...)

	if cfg.Manifest {
		manifest, err := p.writeManifest(result.Outputs)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, manifest)
	}

	return result, nil
}

// preflight reports every missing input at once
func (p *Pipeline) preflight() error {
	var errs []error

	if err := checkInput(p.config.EntryPath()); err != nil {
		errs = append(errs, pathError(ErrResolution, "resolve entry", p.config.Entry, err))
	}
	for _, rule := range p.config.Copy {
		if err := checkInput(p.config.resolve(rule.From)); err != nil {
			errs = append(errs, pathError(ErrResolution, "resolve copy source", rule.From, err))
		}
	}

	return errors.Join(errs...)
}

func checkInput(name string) error {
	info, err := os.Stat(name)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	return nil
}

// bundle runs esbuild in memory and writes the bundle (and source map) itself,
// so a failed compile never leaves a half written bundle behind.
func (p *Pipeline) bundle(ctx context.Context) ([]Output, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "assets.bundle")
	defer span.End()

	logger := zerolog.Ctx(ctx)
	cfg := p.config

	logger.Info().Str("entry", cfg.Entry).Str("outfile", cfg.OutputFilename).Msg("Bundling entry")

	result := api.Build(p.buildOptions())

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			event := logger.Error().Str("error", msg.Text)
			if msg.Location != nil {
				event = event.Str("file", msg.Location.File).Int("line", msg.Location.Line)
			}
			event.Msg("Build error")
		}
		return nil, bundleError(cfg.Entry, result.Errors)
	}

	for _, msg := range result.Warnings {
		logger.Warn().Str("warning", msg.Text).Msg("Build warning")
	}

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return nil, pathError(ErrBundle, "parse metafile", cfg.Entry, err)
	}

	outDir := cfg.OutputPath()
	outputs := make([]Output, 0, len(result.OutputFiles))
	for _, file := range result.OutputFiles {
		rel := relOutput(outDir, file.Path)
		d := newDigest()
		err := writeFileAtomic(file.Path, func(w io.Writer) error {
			_, err := io.MultiWriter(w, d).Write(file.Contents)
			return err
		})
		if err != nil {
			return nil, pathError(ErrWrite, "write bundle", path.Join(cfg.OutputDir, rel), err)
		}

		kind := KindBundle
		if strings.HasSuffix(file.Path, ".map") {
			kind = KindSourceMap
		}
		outputs = append(outputs, d.output(rel, kind, cfg.Entry))

		logger.Info().Str("file", rel).Int64("bytes", d.size).Msg("Built file")
	}

	sort.SliceStable(outputs, func(i, j int) bool {
		return outputs[i].Kind == KindBundle && outputs[j].Kind != KindBundle
	})

	p.metadata = &metadata
	span.SetAttributes(attribute.Int("inputs", len(metadata.Inputs)))

	return outputs, nil
}

func (p *Pipeline) buildOptions() api.BuildOptions {
	cfg := p.config
	return api.BuildOptions{
		EntryPoints:       []string{cfg.EntryPath()},
		Outfile:           cfg.BundlePath(),
		AbsWorkingDir:     cfg.BaseDir,
		Bundle:            true,
		Write:             false,
		Format:            formatOf(cfg.Format),
		Platform:          platformOf(cfg.Platform),
		Target:            targetOf(cfg.Target),
		MinifyWhitespace:  cfg.Minify,
		MinifyIdentifiers: cfg.Minify,
		MinifySyntax:      cfg.Minify,
		TreeShaking:       api.TreeShakingTrue,
		Sourcemap:         cond(cfg.SourceMap, api.SourceMapLinked, api.SourceMapNone),
		External:          cfg.External,
		Define:            cfg.Define,
		Metafile:          true,
		LogLevel:          api.LogLevelSilent,
	}
}

// bundleError classifies esbuild errors; unresolvable imports are input
// problems, everything else is a compile failure.
func bundleError(entry string, msgs []api.Message) error {
	kind := ErrBundle
	for _, msg := range msgs {
		if strings.HasPrefix(msg.Text, "Could not resolve") {
			kind = ErrResolution
			break
		}
	}

	first := msgs[0]
	where := entry
	if first.Location != nil && first.Location.File != "" {
		where = first.Location.File
	}

	return pathError(kind, "bundle", where, fmt.Errorf("%s (%d error(s))", first.Text, len(msgs)))
}

// copyAll copies the rules concurrently. Rules write disjoint destinations,
// so order only matters for the returned outputs, which follow the rules.
func (p *Pipeline) copyAll(ctx context.Context, rules []ResolvedRule) ([]Output, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "assets.copy", trace.WithAttributes(
		attribute.Int("files", len(rules)),
	))
	defer span.End()

	outputs := make([]Output, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.copyLimit)
	for i, rule := range rules {
		g.Go(func() error {
			out, err := p.copyFile(gctx, rule)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return outputs, nil
}

func (p *Pipeline) copyFile(ctx context.Context, rule ResolvedRule) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	from := p.config.Copy[rule.Index].From

	src, err := os.Open(rule.Source)
	if err != nil {
		return Output{}, pathError(ErrResolution, "open copy source", from, err)
	}
	defer src.Close()

	d := newDigest()
	err = writeFileAtomic(rule.Target, func(w io.Writer) error {
		_, err := io.Copy(io.MultiWriter(w, d), src)
		return err
	})
	if err != nil {
		return Output{}, pathError(ErrWrite, "copy", rule.Dest, err)
	}

	telemetry.GetMetrics().FilesCopiedTotal.Add(ctx, 1)

	zerolog.Ctx(ctx).Debug().
		Str("from", from).
		Str("to", rule.Dest).
		Int64("bytes", d.size).
		Msg("Copied file")

	return d.output(rule.Dest, KindCopy, from), nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrBundle):
		return "bundle"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func formatOf(name string) api.Format {
	switch name {
	case "esm":
		return api.FormatESModule
	case "cjs":
		return api.FormatCommonJS
	default:
		return api.FormatIIFE
	}
}

func platformOf(name string) api.Platform {
	switch name {
	case "node":
		return api.PlatformNode
	case "neutral":
		return api.PlatformNeutral
	default:
		return api.PlatformBrowser
	}
}

func targetOf(name string) api.Target {
	switch strings.ToLower(name) {
	case "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	case "es2023":
		return api.ES2023
	case "es2024":
		return api.ES2024
	default:
		return api.ESNext
	}
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
