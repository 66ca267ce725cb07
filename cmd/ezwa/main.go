package main

import (
	"os"

	"github.com/zevanoo/baileys-ez/cmd/ezwa/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
