package main

import (
	"context"
	"fmt"
	"os"

	"github.com/specphone/specphone/cmd"
	"github.com/specphone/specphone/internal/buildinfo"
	"github.com/specphone/specphone/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate string
)

func main() {
	ctx := conf.NewContext(&buildinfo.Context{Version: version, BuildDate: buildDate})

	rootCmd := cmd.RootCommand(ctx)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
