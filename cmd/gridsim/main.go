// Package main is the entry point for gridsim.
package main

import (
	"fmt"
	"os"

	"gridsim/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
