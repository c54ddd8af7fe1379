// Package main is the entry point of the chatdigest CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jholhewres/chatdigest/cmd/chatdigest/commands"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, daemon.ErrShutdown) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
