// Package main provides the entry point for the trailblazer CLI.
package main

import (
	"os"

	"github.com/trailblazer-io/trailblazer/cmd/trailblazer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
