package main

import (
	"fmt"
	"os"

	"github.com/tphakala/wildwatch-go/cmd"
	"github.com/tphakala/wildwatch-go/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	info := buildinfo.NewContext(version, buildDate)

	rootCmd := cmd.RootCommand(info)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
