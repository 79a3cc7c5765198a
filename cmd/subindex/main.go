// Package main provides the entry point for the subindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/subindex/cmd/subindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
