// Package main provides the entry point for the watchsync CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/watchsync/cmd/watchsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
