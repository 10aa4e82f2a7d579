package main

import (
	"os"

	"github.com/AMD-melliott/mcp-amdsmi/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
