package main

import (
	"os"

	"envelopes/internal/cli"
	"envelopes/internal/commands"
)

func main() {
	cli.LoadEnvFile()
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
