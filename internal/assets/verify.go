package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlekit/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
)

// Verify checks an existing output directory against the descriptor: the
// bundle must exist, every copy must be byte-identical to its source and,
// when a manifest is configured, every listed file must still match it.
func (p *Pipeline) Verify(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ctx, span := telemetry.Tracer().Start(ctx, "assets.Verify")
	defer span.End()

	err := p.verify(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) verify(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if err := p.preflight(); err != nil {
		return err
	}

	var errs []error

	if err := checkInput(p.config.BundlePath()); err != nil {
		errs = append(errs, pathError(ErrVerify, "verify bundle", p.config.OutputFilename, err))
	}

	rules, _ := p.config.Rules()
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := verifyCopy(rule); err != nil {
			errs = append(errs, pathError(ErrVerify, "verify copy", rule.Dest, err))
			continue
		}
		logger.Debug().Str("file", rule.Dest).Msg("Copy matches source")
	}

	if p.config.Manifest {
		errs = append(errs, p.verifyManifest(ctx)...)
	}

	return errors.Join(errs...)
}

func verifyCopy(rule ResolvedRule) error {
	want, err := digestFile(rule.Source)
	if err != nil {
		return err
	}
	got, err := digestFile(rule.Target)
	if err != nil {
		return err
	}
	if want.size != got.size || want.crc.Sum64() != got.crc.Sum64() || want.fingerprint() != got.fingerprint() {
		return errors.New("content differs from source")
	}
	return nil
}

func (p *Pipeline) verifyManifest(ctx context.Context) []error {
	outDir := p.config.OutputPath()

	manifest, err := ReadManifest(outDir)
	if err != nil {
		return []error{pathError(ErrVerify, "read manifest", ManifestFilename, err)}
	}

	var errs []error
	for _, entry := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return append(errs, err)
		}
		d, err := digestFile(filepath.Join(outDir, filepath.FromSlash(entry.Path)))
		if err != nil {
			errs = append(errs, pathError(ErrVerify, "verify manifest entry", entry.Path, err))
			continue
		}
		if d.fingerprint() != entry.Fingerprint {
			errs = append(errs, pathError(ErrVerify, "verify manifest entry", entry.Path,
				fmt.Errorf("fingerprint %s does not match manifest %s", d.fingerprint(), entry.Fingerprint)))
		}
	}
	return errs
}
