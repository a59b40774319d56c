package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/manifold/internal/cli"
	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/kernel"
	"github.com/vk/manifold/internal/manifest"
	"github.com/vk/manifold/modules/env"
	"github.com/vk/manifold/modules/print"
)

// coreModules are the controller packages bundled with the runtime.
var coreModules = []controller.Module{
	&print.Module{},
	&env.Module{},
}

// main is the entrypoint for the manifold runtime.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and
// error handling.
func run(outW io.Writer, args []string) error {
	config, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger := cli.NewLogger(config.LogLevel, config.LogFormat, os.Stderr)

	k := kernel.New(manifest.NewLoader(), kernel.Options{
		Logger:             logger,
		MaxExpansionDepth:  config.MaxExpansionDepth,
		MaxExpansionPasses: config.MaxExpansionPasses,
		MaxResolvePasses:   config.MaxResolvePasses,
		MaxDiscoveryPasses: config.MaxDiscoveryPasses,
		EnvAllowlist:       config.EnvAllowlist,
	})
	for _, mod := range coreModules {
		if err := mod.Register(k.Controllers()); err != nil {
			return fmt.Errorf("registering bundled controllers: %w", err)
		}
	}

	ctx := context.Background()
	if err := k.Start(ctx, config.ManifestPaths...); err != nil {
		return err
	}

	if config.Snapshot {
		enc := json.NewEncoder(outW)
		enc.SetIndent("", "  ")
		if err := enc.Encode(k.Snapshot()); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}

	if err := k.WaitForIdle(ctx); err != nil {
		return err
	}
	return k.Shutdown(ctx)
}
