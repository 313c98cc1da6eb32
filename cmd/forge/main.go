// Package main provides the entry point for the forge CLI.
package main

import (
	"os"

	"github.com/forgelabs/forge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
