package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-casperfpga/cmd/casperctl/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
