package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"runbook/internal/cli"
)

// main is a thin boundary: signal handling and the exit code live here, all
// behavior lives in internal/cli.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
