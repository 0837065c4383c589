package main

import (
	"errors"
	"fmt"
	"os"

	"fieldops-etl/internal/app"
	"fieldops-etl/internal/logging"
)

// main is the entry point for the fieldops-etl application.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	if err != nil {
		// Print usage for command-line mistakes before logging the failure.
		if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs) {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// The failure must be visible even with -loglevel none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Job failed: %v", err)
		os.Exit(1)
	}
	logging.Logf(logging.Info, "Job completed successfully.")
}
