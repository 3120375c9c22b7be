// Command repoask indexes GitHub repositories and answers questions about
// them with cited source passages. It serves HTTP, speaks MCP over stdio,
// or runs single operations from the command line.
package main

import (
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
