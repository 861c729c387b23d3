package main

import (
	"fmt"
	"os"

	"github.com/sgcopy/sgcopy/cmd/sgcopy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.LastExitCode())
	}
}
