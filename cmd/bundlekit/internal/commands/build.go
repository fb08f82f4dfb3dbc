package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/bundlekit/internal/assets"
)

type BuildCmd struct {
	DescriptorFlags `embed:""`

	Verify bool `help:"Verify outputs against their sources after building"`
	JSON   bool `name:"json" help:"Print the build result as JSON"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _, done := globals.start(ctx, "build")
	defer done()

	p, err := c.pipeline(ctx, globals)
	if err != nil {
		return err
	}

	result, err := p.Build(ctx)
	if err != nil {
		return err
	}

	if c.Verify {
		if err := p.Verify(ctx); err != nil {
			return err
		}
	}

	if c.JSON {
		return writeResultJSON(globals.stdout(), result)
	}
	return writeResult(globals.stdout(), p.Config().OutputDir, result)
}

func writeResult(w io.Writer, outputDir string, result *assets.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tKIND\tBYTES\tCRC64")
	for _, out := range result.Outputs {
		fmt.Fprintf(tw, "%s/%s\t%s\t%d\t%s\n", outputDir, out.Path, out.Kind, out.Size, out.Checksum())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, rule := range result.Overridden {
		fmt.Fprintf(w, "warning: copy rule %d overridden by a later rule for %s\n", rule.Index+1, rule.Dest)
	}

	_, err := fmt.Fprintf(w, "built %d files in %s\n", len(result.Outputs), result.Duration.Round(time.Millisecond))
	return err
}

type resultJSON struct {
	BuildID    string          `json:"buildId"`
	DurationMS int64           `json:"durationMs"`
	Outputs    []outputJSON    `json:"outputs"`
	Overridden []overriddenRef `json:"overridden,omitempty"`
}

type outputJSON struct {
	assets.Output
	CRC64 string `json:"crc64nvme"`
}

type overriddenRef struct {
	Index int    `json:"index"`
	Dest  string `json:"dest"`
}

func writeResultJSON(w io.Writer, result *assets.Result) error {
	out := resultJSON{
		BuildID:    result.BuildID,
		DurationMS: result.Duration.Milliseconds(),
		Outputs:    make([]outputJSON, 0, len(result.Outputs)),
	}
	for _, o := range result.Outputs {
		out.Outputs = append(out.Outputs, outputJSON{Output: o, CRC64: o.Checksum()})
	}
	for _, rule := range result.Overridden {
		out.Overridden = append(out.Overridden, overriddenRef{Index: rule.Index, Dest: rule.Dest})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
