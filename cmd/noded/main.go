package main

import (
	"fmt"
	"os"

	"github.com/Snider/NodeCore/cmd/noded/cmd"
)

// @title NodeCore Diagnostics API
// @version 1.0
// @description Read-only health, connection, and ban-list surface for a running node.
// @BasePath /diag
func main() {
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
