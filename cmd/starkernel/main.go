// Package main provides the starkernel command.
package main

import (
	"os"

	"github.com/leapstack-labs/starkernel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
