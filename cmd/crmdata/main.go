package main

import (
	"os"
)

func main() {
	rootCmd := NewRootCommand()
	rootCmd.AddCommand(
		NewScopeCommand(),
		NewPingCommand(),
		NewListCommand(),
		NewGetCommand(),
		NewUpdateCommand(),
		NewDeleteCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
