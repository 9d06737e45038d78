// Command doseplan calculates reconstitution draws, plans vial supply and
// manages dosing protocols.
package main

import (
	"context"
	"os"
	"os/signal"

	"dosecore/internal/cli"
	"dosecore/internal/logging"
)

func main() {
	logger := logging.Configure(logging.ProfileRuntime)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		logger.Error().Err(err).Msg("doseplan failed")
		stop()
		os.Exit(1)
	}
}
