package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcuoli/go-privscan/internal/runner"
	"github.com/projectdiscovery/gologger"
)

func main() {
	options := runner.ParseOptions()

	privscanRunner, err := runner.NewRunner(options)
	if err != nil {
		gologger.Fatal().Msgf("Could not create runner: %s\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := privscanRunner.Run(ctx); err != nil {
		gologger.Fatal().Msgf("Could not run scan: %s\n", err)
	}
}
