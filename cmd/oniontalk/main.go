package main

import (
	"os"

	"github.com/nthnn/oniontalk/cmd/oniontalk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
