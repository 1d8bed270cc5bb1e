// Package main provides the entry point for the hybridcore CLI.
package main

import (
	"os"

	"github.com/corvus-labs/hybridcore/cmd/hybridcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
