// Package main provides the entry point for the minara CLI.
package main

import (
	"os"

	"github.com/minara-dev/minara/cmd/minara/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
