package assets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// digest accumulates the size and checksums of everything written to it
type digest struct {
	size int64
	crc  hash.Hash64
	sha  hash.Hash
}

func newDigest() *digest {
	return &digest{crc: crc64nvme.New(), sha: sha256.New()}
}

func (d *digest) Write(p []byte) (int, error) {
	d.crc.Write(p)
	d.sha.Write(p)
	d.size += int64(len(p))
	return len(p), nil
}

// fingerprint is the base58 encoded SHA-256 of the content
func (d *digest) fingerprint() string {
	return base58.Encode(d.sha.Sum(nil))
}

func (d *digest) output(path string, kind OutputKind, source string) Output {
	return Output{
		Path:        path,
		Kind:        kind,
		Source:      source,
		Size:        d.size,
		CRC64:       d.crc.Sum64(),
		Fingerprint: d.fingerprint(),
	}
}

// digestFile reads a file through a digest
func digestFile(path string) (*digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := newDigest()
	if _, err := io.Copy(d, f); err != nil {
		return nil, err
	}
	return d, nil
}

// writeFileAtomic writes target through a temporary file in the same
// directory and renames it into place, replacing any previous file.
func writeFileAtomic(target string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".bundlekit-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		if closeErr := tmp.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			log.Warn().Err(closeErr).Str("file", tmpPath).Msg("Failed to close temp file during error cleanup")
		}
		os.Remove(tmpPath) // Clean up partial file
		return cause
	}

	if err := fill(tmp); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	return nil
}

// relOutput returns target relative to dir, slash separated
func relOutput(dir, target string) string {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
