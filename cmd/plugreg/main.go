// Package main is the entry point for the plugreg command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/plugreg/internal/cli"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	build := cli.BuildInfo{Version: version, Commit: commit, Date: date}
	return cli.Execute(ctx, build, os.Args[1:], os.Stdout, os.Stderr)
}
