package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlekit/internal/assets"
	"github.com/wolfeidau/bundlekit/internal/logger"
	"github.com/wolfeidau/bundlekit/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
	Config  string
	Tracing bool
	// Stdout receives command output, os.Stdout when nil
	Stdout io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// start sets up logging and, when enabled, telemetry for a command. The
// returned func flushes telemetry and must be deferred.
func (g *Globals) start(ctx context.Context, command string) (context.Context, zerolog.Logger, func()) {
	log := logger.WithCommand(logger.Setup(g.Debug), command)
	ctx = log.WithContext(ctx)

	log.Debug().Str("version", g.Version).Msg("Starting bundlekit")

	shutdown := func(context.Context) error { return nil }
	if g.Tracing {
		s, err := telemetry.InitTelemetry(ctx, "bundlekit", g.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			shutdown = s
		}
	}

	return ctx, log, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// DescriptorFlags override fields of the loaded descriptor
type DescriptorFlags struct {
	Entry     string   `help:"Entry module, overrides the descriptor" env:"BUNDLEKIT_ENTRY"`
	OutDir    string   `name:"outdir" help:"Output directory, overrides the descriptor" env:"BUNDLEKIT_OUTDIR"`
	OutFile   string   `name:"outfile" help:"Bundle file name inside the output directory" env:"BUNDLEKIT_OUTFILE"`
	Copy      []string `help:"Copy rule as from[=to]; replaces the descriptor's rules" env:"BUNDLEKIT_COPY"`
	Minify    bool     `help:"Minify the bundle"`
	SourceMap bool     `name:"sourcemap" help:"Emit a linked source map"`
}

// loadConfig resolves the descriptor: --config, then a descriptor in the
// working directory, then the built-in default. Flags are applied last.
func (f DescriptorFlags) loadConfig(ctx context.Context, globals *Globals) (assets.Config, error) {
	log := zerolog.Ctx(ctx)

	path := globals.Config
	if path == "" {
		found, err := assets.Discover(".")
		if err != nil {
			return assets.Config{}, err
		}
		path = found
	}

	var cfg assets.Config
	if path == "" {
		log.Debug().Msg("No descriptor found, using built-in defaults")
		cfg = assets.DefaultConfig()
	} else {
		loaded, err := assets.Load(path)
		if err != nil {
			return assets.Config{}, err
		}
		log.Debug().Str("descriptor", path).Msg("Loaded descriptor")
		cfg = loaded
	}

	if f.Entry != "" {
		cfg.Entry = f.Entry
	}
	if f.OutDir != "" {
		cfg.OutputDir = f.OutDir
	}
	if f.OutFile != "" {
		cfg.OutputFilename = f.OutFile
	}
	if len(f.Copy) > 0 {
		rules, err := parseCopyRules(f.Copy)
		if err != nil {
			return assets.Config{}, err
		}
		cfg.Copy = rules
	}
	cfg.Minify = cfg.Minify || f.Minify
	cfg.SourceMap = cfg.SourceMap || f.SourceMap

	return cfg, nil
}

func (f DescriptorFlags) pipeline(ctx context.Context, globals *Globals) (*assets.Pipeline, error) {
	cfg, err := f.loadConfig(ctx, globals)
	if err != nil {
		return nil, err
	}
	return assets.New(cfg)
}

func parseCopyRules(values []string) ([]assets.CopyRule, error) {
	rules := make([]assets.CopyRule, 0, len(values))
	for _, value := range values {
		from, to, _ := strings.Cut(value, "=")
		if strings.TrimSpace(from) == "" {
			return nil, fmt.Errorf("%w: --copy %q: source is required", assets.ErrConfig, value)
		}
		rules = append(rules, assets.CopyRule{From: from, To: to})
	}
	return rules, nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
