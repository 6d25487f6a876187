// Package main contains the entrypoint for checkpointctl, a command line tool
// to inspect and manage checkpoint streams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func run(ctx context.Context, args []string) error {
	config, err := parseConfig()
	if err != nil {
		return fmt.Errorf("checkpointctl.main: failed to parse config, %w", err)
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(config.LogLevel)

	logger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("checkpointctl.main: failed to initialize logger, %w", err)
	}

	//nolint:errcheck // No need for this error to come up if it happens.
	defer logger.Sync()

	cmd := newRootCommand(&app{config: config, logger: logger})
	cmd.SetArgs(args)

	return cmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
