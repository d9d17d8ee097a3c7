package main

import (
	"os"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

func main() {
	// set up the whole config thing
	config.Setup()

	// gentlemen, START YOUR ENGINES
	if err := root.Command.Execute(); err != nil {
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}
