// Package main provides the entry point for gridctl.
//
// gridctl inspects and loads volume grid files through the same cache the
// library uses, and can write demo files to experiment with.
package main

import (
	"os"

	"github.com/volgrid/volgrid/internal/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		command.PrintError("%v", err)
		os.Exit(1)
	}
}
