package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/keronhq/keron/cmd/keron/commands"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	code := commands.Execute(ctx, Version, Commit)
	os.Exit(code)
}
