package main

import (
	"os"

	"github.com/examforge/examforge/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
