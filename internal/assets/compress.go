package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

func sidecarExt(name string) string {
	switch name {
	case "gzip":
		return ".gz"
	case "zstd":
		return ".zst"
	default:
		return "." + name
	}
}

// compressAll writes a precompressed sidecar for every output and every
// configured compressor, e.g. index.js.gz and index.js.zst.
func (p *Pipeline) compressAll(ctx context.Context, outputs []Output) ([]Output, error) {
	if len(p.config.Compress) == 0 {
		return nil, nil
	}

	logger := zerolog.Ctx(ctx)
	outDir := p.config.OutputPath()
	sidecars := make([]Output, 0, len(outputs)*len(p.config.Compress))

	for _, out := range outputs {
		for _, name := range p.config.Compress {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			target := filepath.Join(outDir, filepath.FromSlash(out.Path))
			d, err := writeSidecar(target, name)
			if err != nil {
				return nil, pathError(ErrWrite, "compress", out.Path+sidecarExt(name), err)
			}

			ratio := 0.0
			if out.Size > 0 {
				ratio = (1.0 - float64(d.size)/float64(out.Size)) * 100
			}
			logger.Debug().
				Str("file", out.Path).
				Str("compressor", name).
				Int64("original_bytes", out.Size).
				Int64("compressed_bytes", d.size).
				Float64("compression_ratio_pct", ratio).
				Msg("Wrote compressed sidecar")

			sidecars = append(sidecars, d.output(out.Path+sidecarExt(name), KindSidecar, out.Path))
		}
	}

	return sidecars, nil
}

func writeSidecar(target, name string) (*digest, error) {
	src, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	defer src.Close()

	d := newDigest()
	err = writeFileAtomic(target+sidecarExt(name), func(w io.Writer) error {
		enc, err := newEncoder(io.MultiWriter(w, d), name)
		if err != nil {
			return fmt.Errorf("failed to create encoder: %w", err)
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			return fmt.Errorf("failed to compress: %w", err)
		}
		// Close flushes the final frame
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to close encoder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

func newEncoder(w io.Writer, name string) (io.WriteCloser, error) {
	switch name {
	case "gzip":
		enc, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case "zstd":
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}
