package commands

import (
	"context"
	"time"

	"github.com/wolfeidau/bundlekit/internal/assets"
)

type WatchCmd struct {
	DescriptorFlags `embed:""`

	Debounce time.Duration `help:"Quiet period before rebuilding after a change" default:"100ms" env:"BUNDLEKIT_DEBOUNCE"`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log, done := globals.start(ctx, "watch")
	defer done()

	p, err := c.pipeline(ctx, globals)
	if err != nil {
		return err
	}

	watcher, err := assets.NewWatcher(p, c.Debounce)
	if err != nil {
		return err
	}

	log.Info().Str("entry", p.Config().Entry).Str("output_dir", p.Config().OutputDir).Msg("Starting watch mode")
	return watcher.Run(ctx)
}
