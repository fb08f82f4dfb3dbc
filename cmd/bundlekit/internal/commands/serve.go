package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlekit/internal/assets"
	httpmiddleware "github.com/wolfeidau/bundlekit/internal/http"
)

type ServeCmd struct {
	DescriptorFlags `embed:""`

	Listen      string        `help:"HTTP server listen address" default:"127.0.0.1:8080" env:"BUNDLEKIT_LISTEN"`
	Watch       bool          `help:"Rebuild when sources change" default:"true" negatable:""`
	Debounce    time.Duration `help:"Quiet period before rebuilding after a change" default:"100ms" env:"BUNDLEKIT_DEBOUNCE"`
	CORSOrigins []string      `name:"cors-origins" help:"Allowed CORS origins for served files" env:"BUNDLEKIT_CORS_ORIGINS"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log, done := globals.start(ctx, "serve")
	defer done()

	p, err := c.pipeline(ctx, globals)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	if c.Watch {
		watcher, err := assets.NewWatcher(p, c.Debounce)
		if err != nil {
			return err
		}
		go func() { watchErr <- watcher.Run(ctx) }()
	} else {
		if _, err := p.Build(ctx); err != nil {
			return err
		}
		close(watchErr)
	}

	server := configureHTTPServer(c.Listen, newServeHandler(p.Config().OutputPath(), c.CORSOrigins, log))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown HTTP server")
		}
	}()

	log.Info().
		Str("addr", c.Listen).
		Str("output_dir", p.Config().OutputDir).
		Bool("watch", c.Watch).
		Msg("Starting HTTP server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	cancel()
	return <-watchErr
}

// newServeHandler serves the output directory. Responses are never cached
// because files change under the server while watching.
func newServeHandler(outputDir string, corsOrigins []string, log zerolog.Logger) http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.AccessLog(log),
		httpmiddleware.NoCache(),
	}
	if len(corsOrigins) > 0 {
		middlewares = append(middlewares, cors.New(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler)
	}

	return httpmiddleware.Chain(http.FileServer(http.Dir(outputDir)), middlewares...)
}
