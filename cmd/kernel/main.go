// Package main runs order saga scenarios against the aggregate kernel.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/aggkernel/internal/platform/config"

	kernelcmd "github.com/louisbranch/aggkernel/internal/cmd/kernel"
)

func main() {
	cfg, err := kernelcmd.ParseConfig(flag.NewFlagSet("aggkernel", flag.ContinueOnError), os.Args[1:])
	config.ExitOnError(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kernelcmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		config.Exitf("Error: %v", err)
	}
}
