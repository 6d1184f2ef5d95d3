package main

import (
	"context"
	"os"

	"github.com/hydroguard/pestwatch/cmd"
	"github.com/hydroguard/pestwatch/internal/conf"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	settings := &conf.Settings{Version: version}
	if err := cmd.RootCommand(settings).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
