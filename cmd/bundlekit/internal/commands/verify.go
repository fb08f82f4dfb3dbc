package commands

import (
	"context"
	"fmt"
)

type VerifyCmd struct {
	DescriptorFlags `embed:""`
}

func (c *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _, done := globals.start(ctx, "verify")
	defer done()

	p, err := c.pipeline(ctx, globals)
	if err != nil {
		return err
	}

	if err := p.Verify(ctx); err != nil {
		return err
	}

	_, err = fmt.Fprintf(globals.stdout(), "%s is up to date\n", p.Config().OutputDir)
	return err
}
