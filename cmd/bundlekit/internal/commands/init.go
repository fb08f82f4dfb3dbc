package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wolfeidau/bundlekit/internal/assets"
)

// InitCmd writes the default descriptor so a project can start from it.
type InitCmd struct {
	Path  string `arg:"" optional:"" help:"Descriptor to create" default:"bundlekit.yaml" type:"path"`
	Force bool   `help:"Overwrite an existing descriptor" default:"false"`
}

func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	_, log, done := globals.start(ctx, "init")
	defer done()

	if _, err := os.Stat(c.Path); err == nil && !c.Force {
		return fmt.Errorf("%w: %s already exists (use --force to overwrite)", assets.ErrConfig, c.Path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check descriptor: %w", err)
	}

	data, err := assets.Marshal(assets.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render descriptor: %w", err)
	}

	// #nosec G306 - descriptors are meant to be committed and shared
	if err := os.WriteFile(c.Path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", assets.ErrWrite, err)
	}

	log.Info().Str("descriptor", c.Path).Msg("Wrote descriptor")
	_, err = fmt.Fprintf(globals.stdout(), "Created %s\n", c.Path)
	return err
}
