package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/bundlekit/cmd/bundlekit/internal/commands"
	"github.com/wolfeidau/bundlekit/internal/assets"
)

var (
	version = "dev"
	cli     struct {
		Build   commands.BuildCmd  `cmd:"" default:"1" help:"Bundle the entry module and copy static files (default)"`
		Watch   commands.WatchCmd  `cmd:"" help:"Rebuild whenever a source file changes"`
		Serve   commands.ServeCmd  `cmd:"" help:"Serve the output directory, rebuilding on change"`
		Verify  commands.VerifyCmd `cmd:"" help:"Check that built outputs still match their sources"`
		Init    commands.InitCmd   `cmd:"" help:"Write a starter descriptor"`
		Config  string             `help:"Descriptor file (default: bundlekit.{yaml,yml,toml,json} in the working directory)" type:"path" env:"BUNDLEKIT_CONFIG"`
		Tracing bool               `help:"Export traces and metrics over OTLP" env:"BUNDLEKIT_TRACING"`
		Debug   bool               `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("bundlekit"),
		kong.Description("Bundle a JavaScript entry module and package static assets."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Config:  cli.Config,
		Tracing: cli.Tracing,
	})
	if err != nil {
		cmd.Errorf("%s", err)
		stop()
		os.Exit(assets.ExitCode(err))
	}
}
