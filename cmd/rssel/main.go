package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rssel/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rssel:", err)
		cancel()
		os.Exit(1)
	}
}
