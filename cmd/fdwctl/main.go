package main

import (
	"context"
	"fmt"
	"os"

	"github.com/duckmesh/wrappers/internal/cli/fdwctl"
	"github.com/duckmesh/wrappers/internal/config"
	"github.com/duckmesh/wrappers/internal/observability"
	"github.com/duckmesh/wrappers/internal/wasm"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv("fdwctl")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	logger := observability.NewLogger(cfg, os.Stderr)
	guestLogger := observability.NewZapLogger(cfg, os.Stderr)
	defer func() { _ = guestLogger.Sync() }()
	wasm.SetLogger(guestLogger)

	ctx := context.Background()
	secrets, closer, err := fdwctl.OpenSecrets(ctx, cfg, os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "open vault: %v\n", err)
		return 1
	}
	defer func() { _ = closer.Close() }()

	return fdwctl.Run(ctx, os.Args[1:], fdwctl.Options{
		Config:  cfg,
		Secrets: secrets,
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	})
}
