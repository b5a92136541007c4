package main

import (
	"fmt"
	"os"

	"github.com/tabrecall/tabrecall/internal/cli"
)

// version is stamped at build time via -ldflags.
var version = "0.1.0-dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
