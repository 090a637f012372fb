package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kanon/internal/cli"
)

// main only owns the process boundary: signals, arguments and the exit
// status. Everything else lives in internal/cli.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], cli.OSEnv())
	stop()
	os.Exit(code)
}
