// Package main is the entry point for the responder playbook service.
package main

import (
	"fmt"
	"os"

	"responder/bootstrap"
)

func run() error {
	app, err := bootstrap.NewApp()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := app.Start(); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "responder: %v\n", err)
		os.Exit(1)
	}
}
