package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/aide/cmd/aide/commands"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
