package assets

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const manifestVersion = 1

// Manifest lists every file a build wrote. It carries no timestamps or
// build IDs so unchanged inputs produce an identical manifest.
type Manifest struct {
	Version int             `json:"version"`
	Entry   string          `json:"entry"`
	Bundle  string          `json:"bundle"`
	Files   []ManifestEntry `json:"files"`
}

type ManifestEntry struct {
	Path        string     `json:"path"`
	Kind        OutputKind `json:"kind"`
	Source      string     `json:"source,omitempty"`
	Size        int64      `json:"size"`
	CRC64       string     `json:"crc64nvme"`
	Fingerprint string     `json:"fingerprint"`
}

func (p *Pipeline) writeManifest(outputs []Output) (Output, error) {
	manifest := Manifest{
		Version: manifestVersion,
		Entry:   p.config.Entry,
		Bundle:  filepath.ToSlash(filepath.Clean(filepath.FromSlash(p.config.OutputFilename))),
		Files:   make([]ManifestEntry, 0, len(outputs)),
	}
	for _, out := range outputs {
		manifest.Files = append(manifest.Files, ManifestEntry{
			Path:        out.Path,
			Kind:        out.Kind,
			Source:      out.Source,
			Size:        out.Size,
			CRC64:       out.Checksum(),
			Fingerprint: out.Fingerprint,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')

	target := filepath.Join(p.config.OutputPath(), ManifestFilename)
	d := newDigest()
	err = writeFileAtomic(target, func(w io.Writer) error {
		_, err := io.MultiWriter(w, d).Write(data)
		return err
	})
	if err != nil {
		return Output{}, pathError(ErrWrite, "write manifest", ManifestFilename, err)
	}

	return d.output(ManifestFilename, KindManifest, ""), nil
}

// ReadManifest loads build-manifest.json from an output directory
func ReadManifest(outputDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, ManifestFilename))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	return &manifest, nil
}
